package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func pendingRound(t *testing.T, m *Memory) *Round {
	t.Helper()
	ctx := context.Background()
	seq, err := m.NextSequence(ctx)
	if err != nil {
		t.Fatalf("NextSequence() error: %v", err)
	}
	r := &Round{
		ID:             "round-1",
		SequenceNumber: seq,
		ServerSeed:     "seed",
		ServerSeedHash: "hash",
		ClientSeed:     "client",
		CrashPoint:     2.50,
		State:          RoundPending,
		CreatedAt:      time.Now(),
	}
	if err := m.CreateRound(ctx, r); err != nil {
		t.Fatalf("CreateRound() error: %v", err)
	}
	return r
}

func TestMemory_PlaceBet_DebitsBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	pendingRound(t, m)
	m.SetBalance(ctx, "alice", AccountDemo, 100)

	bet := &Bet{ID: "bet-1", RoundID: "round-1", UserID: "alice",
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now()}

	newBalance, err := m.PlaceBet(ctx, bet)
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}
	if newBalance != 60 {
		t.Errorf("balance after placement = %v, want 60", newBalance)
	}
}

func TestMemory_PlaceBet_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	pendingRound(t, m)
	m.SetBalance(ctx, "alice", AccountDemo, 10)

	bet := &Bet{ID: "bet-1", RoundID: "round-1", UserID: "alice",
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now()}

	if _, err := m.PlaceBet(ctx, bet); err != ErrInsufficientBalance {
		t.Fatalf("PlaceBet() error = %v, want ErrInsufficientBalance", err)
	}

	// No partial effect: balance untouched, bet absent.
	bal, _ := m.GetBalance(ctx, "alice", AccountDemo)
	if bal.Amount != 10 {
		t.Errorf("balance = %v, want 10", bal.Amount)
	}
	if _, err := m.GetBet(ctx, "bet-1"); err != ErrNotFound {
		t.Errorf("GetBet() error = %v, want ErrNotFound", err)
	}
}

func TestMemory_PlaceBet_DuplicateActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	pendingRound(t, m)
	m.SetBalance(ctx, "alice", AccountDemo, 100)

	first := &Bet{ID: "bet-1", RoundID: "round-1", UserID: "alice",
		AccountType: AccountDemo, Stake: 10, Status: BetActive, CreatedAt: time.Now()}
	if _, err := m.PlaceBet(ctx, first); err != nil {
		t.Fatalf("first PlaceBet() error: %v", err)
	}

	second := &Bet{ID: "bet-2", RoundID: "round-1", UserID: "alice",
		AccountType: AccountDemo, Stake: 10, Status: BetActive, CreatedAt: time.Now()}
	if _, err := m.PlaceBet(ctx, second); err != ErrDuplicateActiveBet {
		t.Fatalf("second PlaceBet() error = %v, want ErrDuplicateActiveBet", err)
	}

	// A different account type on the same round is allowed.
	m.SetBalance(ctx, "alice", AccountReal, 100)
	third := &Bet{ID: "bet-3", RoundID: "round-1", UserID: "alice",
		AccountType: AccountReal, Stake: 10, Status: BetActive, CreatedAt: time.Now()}
	if _, err := m.PlaceBet(ctx, third); err != nil {
		t.Fatalf("real-account PlaceBet() error: %v", err)
	}
}

func TestMemory_PlaceBet_RoundNotPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := pendingRound(t, m)
	m.SetBalance(ctx, "alice", AccountDemo, 100)
	m.MarkRoundActive(ctx, r.ID, time.Now())

	bet := &Bet{ID: "bet-1", RoundID: r.ID, UserID: "alice",
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now()}
	if _, err := m.PlaceBet(ctx, bet); err != ErrRoundNotPending {
		t.Fatalf("PlaceBet() on active round error = %v, want ErrRoundNotPending", err)
	}

	// Rejection leaves no trace: balance untouched, bet absent.
	bal, _ := m.GetBalance(ctx, "alice", AccountDemo)
	if bal.Amount != 100 {
		t.Errorf("balance = %v, want 100", bal.Amount)
	}
	if _, err := m.GetBet(ctx, "bet-1"); err != ErrNotFound {
		t.Errorf("GetBet() error = %v, want ErrNotFound", err)
	}

	orphan := &Bet{ID: "bet-2", RoundID: "no-such-round", UserID: "alice",
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now()}
	if _, err := m.PlaceBet(ctx, orphan); err != ErrNotFound {
		t.Errorf("PlaceBet() on unknown round error = %v, want ErrNotFound", err)
	}
}

func TestMemory_CashOutBet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	pendingRound(t, m)
	m.SetBalance(ctx, "alice", AccountDemo, 100)

	bet := &Bet{ID: "bet-1", RoundID: "round-1", UserID: "alice",
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now()}
	m.PlaceBet(ctx, bet)

	settled, newBalance, err := m.CashOutBet(ctx, "bet-1", 2.00, time.Now())
	if err != nil {
		t.Fatalf("CashOutBet() error: %v", err)
	}
	if settled.Status != BetCashedOut {
		t.Errorf("status = %v, want cashed_out", settled.Status)
	}
	if *settled.Profit != 40 {
		t.Errorf("profit = %v, want 40", *settled.Profit)
	}
	if newBalance != 140 {
		t.Errorf("balance = %v, want 140", newBalance)
	}

	// Second cashout must lose to the first.
	if _, _, err := m.CashOutBet(ctx, "bet-1", 2.00, time.Now()); err != ErrBetNotActive {
		t.Fatalf("repeat CashOutBet() error = %v, want ErrBetNotActive", err)
	}
	bal, _ := m.GetBalance(ctx, "alice", AccountDemo)
	if bal.Amount != 140 {
		t.Errorf("balance after repeat cashout = %v, want 140", bal.Amount)
	}
}

func TestMemory_SettleLostBets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	pendingRound(t, m)
	m.SetBalance(ctx, "alice", AccountDemo, 100)
	m.SetBalance(ctx, "bob", AccountDemo, 100)

	m.PlaceBet(ctx, &Bet{ID: "bet-1", RoundID: "round-1", UserID: "alice",
		AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now()})
	m.PlaceBet(ctx, &Bet{ID: "bet-2", RoundID: "round-1", UserID: "bob",
		AccountType: AccountDemo, Stake: 25, Status: BetActive, CreatedAt: time.Now()})
	m.CashOutBet(ctx, "bet-2", 1.50, time.Now())

	n, err := m.SettleLostBets(ctx, "round-1", time.Now())
	if err != nil {
		t.Fatalf("SettleLostBets() error: %v", err)
	}
	if n != 1 {
		t.Errorf("settled = %v, want 1 (cashed-out bet must be skipped)", n)
	}

	lost, _ := m.GetBet(ctx, "bet-1")
	if lost.Status != BetLost || *lost.Profit != -40 {
		t.Errorf("bet-1 = %v profit %v, want lost / -40", lost.Status, *lost.Profit)
	}

	// Loss settlement moves no money; the stake left at placement.
	bal, _ := m.GetBalance(ctx, "alice", AccountDemo)
	if bal.Amount != 60 {
		t.Errorf("alice balance = %v, want 60", bal.Amount)
	}

	// Re-settling is a no-op.
	if n, _ := m.SettleLostBets(ctx, "round-1", time.Now()); n != 0 {
		t.Errorf("re-settle = %v, want 0", n)
	}
}

func TestMemory_CashOutVsSettle_Race(t *testing.T) {
	// Concurrent cashout and crash settlement: exactly one wins.
	for i := 0; i < 50; i++ {
		ctx := context.Background()
		m := NewMemory()
		pendingRound(t, m)
		m.SetBalance(ctx, "alice", AccountDemo, 100)
		m.PlaceBet(ctx, &Bet{ID: "bet-1", RoundID: "round-1", UserID: "alice",
			AccountType: AccountDemo, Stake: 40, Status: BetActive, CreatedAt: time.Now()})

		var wg sync.WaitGroup
		var cashoutErr error
		var settled int64
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, cashoutErr = m.CashOutBet(ctx, "bet-1", 2.00, time.Now())
		}()
		go func() {
			defer wg.Done()
			settled, _ = m.SettleLostBets(ctx, "round-1", time.Now())
		}()
		wg.Wait()

		bet, _ := m.GetBet(ctx, "bet-1")
		bal, _ := m.GetBalance(ctx, "alice", AccountDemo)

		switch {
		case cashoutErr == nil && settled == 0:
			if bet.Status != BetCashedOut || bal.Amount != 140 {
				t.Fatalf("cashout won but bet=%v balance=%v", bet.Status, bal.Amount)
			}
		case cashoutErr == ErrBetNotActive && settled == 1:
			if bet.Status != BetLost || bal.Amount != 60 {
				t.Fatalf("settle won but bet=%v balance=%v", bet.Status, bal.Amount)
			}
		default:
			t.Fatalf("no single winner: cashoutErr=%v settled=%v", cashoutErr, settled)
		}
	}
}

func TestMemory_RoundTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := pendingRound(t, m)

	if err := m.MarkRoundCrashed(ctx, r.ID, time.Now()); err != ErrRoundStateConflict {
		t.Fatalf("crash from pending error = %v, want ErrRoundStateConflict", err)
	}
	if err := m.MarkRoundActive(ctx, r.ID, time.Now()); err != nil {
		t.Fatalf("MarkRoundActive() error: %v", err)
	}
	if err := m.MarkRoundActive(ctx, r.ID, time.Now()); err != ErrRoundStateConflict {
		t.Fatalf("double activate error = %v, want ErrRoundStateConflict", err)
	}
	if err := m.MarkRoundCrashed(ctx, r.ID, time.Now()); err != nil {
		t.Fatalf("MarkRoundCrashed() error: %v", err)
	}

	rounds, err := m.CrashedRounds(ctx, 10)
	if err != nil {
		t.Fatalf("CrashedRounds() error: %v", err)
	}
	if len(rounds) != 1 || rounds[0].ID != r.ID {
		t.Errorf("CrashedRounds() = %v rounds, want the crashed one", len(rounds))
	}
	if _, err := m.OpenRound(ctx); err != ErrNotFound {
		t.Errorf("OpenRound() after crash error = %v, want ErrNotFound", err)
	}
}

func TestRound_Public(t *testing.T) {
	r := Round{ID: "r", ServerSeed: "secret", ServerSeedHash: "hash",
		CrashPoint: 3.5, State: RoundActive}

	pub := r.Public()
	if pub.ServerSeed != "" || pub.CrashPoint != 0 {
		t.Error("Public() must hide seed and crash point before crash")
	}

	r.State = RoundCrashed
	pub = r.Public()
	if pub.ServerSeed != "secret" || pub.CrashPoint != 3.5 {
		t.Error("Public() must reveal seed and crash point after crash")
	}
}
