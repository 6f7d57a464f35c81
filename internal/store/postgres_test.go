package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crashx/internal/database"
	"crashx/internal/logger"
)

// testPool is nil when Docker is unavailable; the Postgres tests skip
// themselves and the in-memory tests still run.
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	logger.Init(true)

	teardown := startPostgres()
	code := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if teardown != nil {
		teardown(context.Background())
	}
	os.Exit(code)
}

func startPostgres() func(context.Context, ...testcontainers.TerminateOption) error {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		return nil
	}
	if os.Getenv("CI") == "" && !dockerAvailable() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("crashdb_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return container.Terminate
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return container.Terminate
	}
	defer db.Close()
	if err := database.RunMigrations(db, "../../migrations"); err != nil {
		return container.Terminate
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return container.Terminate
	}
	testPool = pool
	return container.Terminate
}

func dockerAvailable() (ok bool) {
	// testcontainers panics (rather than returning an error) when no
	// Docker socket can be found; treat that as "not available".
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func testPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testPool == nil {
		t.Skip("docker unavailable, skipping postgres tests")
	}
	return NewPostgres(testPool)
}

func createPostgresRound(t *testing.T, p *Postgres) *Round {
	t.Helper()
	ctx := context.Background()
	seq, err := p.NextSequence(ctx)
	if err != nil {
		t.Fatalf("NextSequence() error: %v", err)
	}
	r := &Round{
		ID:             uuid.NewString(),
		SequenceNumber: seq,
		ServerSeed:     "seed",
		ServerSeedHash: "hash",
		ClientSeed:     "client",
		CrashPoint:     2.50,
		State:          RoundPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.CreateRound(ctx, r); err != nil {
		t.Fatalf("CreateRound() error: %v", err)
	}
	return r
}

func TestPostgres_RoundLifecycle(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	r := createPostgresRound(t, p)

	got, err := p.GetRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRound() error: %v", err)
	}
	if got.State != RoundPending || got.CrashPoint != 2.50 {
		t.Errorf("round = %+v", got)
	}

	open, err := p.OpenRound(ctx)
	if err != nil {
		t.Fatalf("OpenRound() error: %v", err)
	}
	if open.ID != r.ID {
		t.Errorf("OpenRound() = %v, want %v", open.ID, r.ID)
	}

	if err := p.MarkRoundCrashed(ctx, r.ID, time.Now()); !errors.Is(err, ErrRoundStateConflict) {
		t.Errorf("crash from pending error = %v, want ErrRoundStateConflict", err)
	}
	if err := p.MarkRoundActive(ctx, r.ID, time.Now()); err != nil {
		t.Fatalf("MarkRoundActive() error: %v", err)
	}
	if err := p.MarkRoundActive(ctx, r.ID, time.Now()); !errors.Is(err, ErrRoundStateConflict) {
		t.Errorf("double activate error = %v, want ErrRoundStateConflict", err)
	}
	if err := p.MarkRoundCrashed(ctx, r.ID, time.Now()); err != nil {
		t.Fatalf("MarkRoundCrashed() error: %v", err)
	}

	rounds, err := p.CrashedRounds(ctx, 100)
	if err != nil {
		t.Fatalf("CrashedRounds() error: %v", err)
	}
	found := false
	for _, cr := range rounds {
		if cr.ID == r.ID {
			found = true
		}
	}
	if !found {
		t.Error("crashed round missing from history")
	}
}

func TestPostgres_PlaceBetAndCashout(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	r := createPostgresRound(t, p)
	user := "user-" + uuid.NewString()

	if _, err := p.SetBalance(ctx, user, AccountDemo, 100); err != nil {
		t.Fatalf("SetBalance() error: %v", err)
	}

	bet := &Bet{ID: uuid.NewString(), RoundID: r.ID, UserID: user,
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now().UTC()}
	newBalance, err := p.PlaceBet(ctx, bet)
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}
	if newBalance != 60 {
		t.Errorf("balance after placement = %v, want 60", newBalance)
	}

	// The partial unique index rejects a second active bet.
	dup := &Bet{ID: uuid.NewString(), RoundID: r.ID, UserID: user,
		AccountType: AccountDemo, Stake: 10, Status: BetActive, CreatedAt: time.Now().UTC()}
	if _, err := p.PlaceBet(ctx, dup); !errors.Is(err, ErrDuplicateActiveBet) {
		t.Fatalf("duplicate PlaceBet() error = %v, want ErrDuplicateActiveBet", err)
	}
	if bal, _ := p.GetBalance(ctx, user, AccountDemo); bal.Amount != 60 {
		t.Errorf("balance after rejected bet = %v, want 60", bal.Amount)
	}

	settled, newBalance, err := p.CashOutBet(ctx, bet.ID, 2.00, time.Now().UTC())
	if err != nil {
		t.Fatalf("CashOutBet() error: %v", err)
	}
	if settled.Status != BetCashedOut || *settled.Profit != 40 {
		t.Errorf("settled = %v profit %v, want cashed_out / 40", settled.Status, *settled.Profit)
	}
	if newBalance != 140 {
		t.Errorf("balance after cashout = %v, want 140", newBalance)
	}

	if _, _, err := p.CashOutBet(ctx, bet.ID, 2.00, time.Now().UTC()); !errors.Is(err, ErrBetNotActive) {
		t.Fatalf("repeat CashOutBet() error = %v, want ErrBetNotActive", err)
	}
}

func TestPostgres_PlaceBet_RoundNotPending(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	r := createPostgresRound(t, p)
	user := "user-" + uuid.NewString()
	p.SetBalance(ctx, user, AccountDemo, 100)

	if err := p.MarkRoundActive(ctx, r.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkRoundActive() error: %v", err)
	}

	bet := &Bet{ID: uuid.NewString(), RoundID: r.ID, UserID: user,
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now().UTC()}
	if _, err := p.PlaceBet(ctx, bet); !errors.Is(err, ErrRoundNotPending) {
		t.Fatalf("PlaceBet() on active round error = %v, want ErrRoundNotPending", err)
	}

	// The transaction rolled back whole: no debit, no bet row.
	if bal, _ := p.GetBalance(ctx, user, AccountDemo); bal.Amount != 100 {
		t.Errorf("balance = %v, want 100", bal.Amount)
	}
	if _, err := p.GetBet(ctx, bet.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBet() error = %v, want ErrNotFound", err)
	}

	orphan := &Bet{ID: uuid.NewString(), RoundID: uuid.NewString(), UserID: user,
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now().UTC()}
	if _, err := p.PlaceBet(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("PlaceBet() on unknown round error = %v, want ErrNotFound", err)
	}
}

func TestPostgres_InsufficientBalance(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	r := createPostgresRound(t, p)
	user := "user-" + uuid.NewString()

	p.SetBalance(ctx, user, AccountDemo, 5)

	bet := &Bet{ID: uuid.NewString(), RoundID: r.ID, UserID: user,
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now().UTC()}
	if _, err := p.PlaceBet(ctx, bet); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("PlaceBet() error = %v, want ErrInsufficientBalance", err)
	}

	// The transaction rolled back: no bet row, no debit.
	if _, err := p.GetBet(ctx, bet.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBet() error = %v, want ErrNotFound", err)
	}
	if bal, _ := p.GetBalance(ctx, user, AccountDemo); bal.Amount != 5 {
		t.Errorf("balance = %v, want 5", bal.Amount)
	}
}

func TestPostgres_SettleLostBets(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	r := createPostgresRound(t, p)
	winner := "user-" + uuid.NewString()
	loser := "user-" + uuid.NewString()

	p.SetBalance(ctx, winner, AccountDemo, 100)
	p.SetBalance(ctx, loser, AccountDemo, 100)

	winBet := &Bet{ID: uuid.NewString(), RoundID: r.ID, UserID: winner,
		AccountType: AccountDemo, Stake: 25, Status: BetActive, CreatedAt: time.Now().UTC()}
	loseBet := &Bet{ID: uuid.NewString(), RoundID: r.ID, UserID: loser,
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now().UTC()}
	p.PlaceBet(ctx, winBet)
	p.PlaceBet(ctx, loseBet)
	p.CashOutBet(ctx, winBet.ID, 1.50, time.Now().UTC())

	n, err := p.SettleLostBets(ctx, r.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("SettleLostBets() error: %v", err)
	}
	if n != 1 {
		t.Errorf("settled = %v, want 1", n)
	}

	lost, _ := p.GetBet(ctx, loseBet.ID)
	if lost.Status != BetLost || *lost.Profit != -40 {
		t.Errorf("lost bet = %v profit %v, want lost / -40", lost.Status, *lost.Profit)
	}

	if n, _ := p.SettleLostBets(ctx, r.ID, time.Now().UTC()); n != 0 {
		t.Errorf("re-settle = %v, want 0", n)
	}
}

func TestPostgres_CashOutVsSettle_Race(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r := createPostgresRound(t, p)
		user := "user-" + uuid.NewString()
		p.SetBalance(ctx, user, AccountDemo, 100)
		bet := &Bet{ID: uuid.NewString(), RoundID: r.ID, UserID: user,
			AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now().UTC()}
		if _, err := p.PlaceBet(ctx, bet); err != nil {
			t.Fatalf("PlaceBet() error: %v", err)
		}

		var wg sync.WaitGroup
		var cashoutErr error
		var settled int64
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, cashoutErr = p.CashOutBet(ctx, bet.ID, 2.00, time.Now().UTC())
		}()
		go func() {
			defer wg.Done()
			settled, _ = p.SettleLostBets(ctx, r.ID, time.Now().UTC())
		}()
		wg.Wait()

		bal, _ := p.GetBalance(ctx, user, AccountDemo)
		switch {
		case cashoutErr == nil && settled == 0:
			if bal.Amount != 140 {
				t.Fatalf("cashout won but balance = %v, want 140", bal.Amount)
			}
		case errors.Is(cashoutErr, ErrBetNotActive) && settled == 1:
			if bal.Amount != 60 {
				t.Fatalf("settle won but balance = %v, want 60", bal.Amount)
			}
		default:
			t.Fatalf("no single winner: cashoutErr=%v settled=%v", cashoutErr, settled)
		}
	}
}

func TestPostgres_SetBalanceUpsert(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	if _, err := p.GetBalance(ctx, user, AccountDemo); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetBalance() error = %v, want ErrNotFound", err)
	}

	bal, err := p.SetBalance(ctx, user, AccountDemo, 50)
	if err != nil {
		t.Fatalf("SetBalance() error: %v", err)
	}
	if bal.Amount != 50 {
		t.Errorf("balance = %v, want 50", bal.Amount)
	}

	bal, err = p.SetBalance(ctx, user, AccountDemo, 75)
	if err != nil {
		t.Fatalf("upsert SetBalance() error: %v", err)
	}
	if bal.Amount != 75 {
		t.Errorf("balance after upsert = %v, want 75", bal.Amount)
	}
}
