package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on pgx. All settlement paths use single
// conditional UPDATE statements keyed on the current status so a lost
// race shows up as zero rows affected, never as a double settlement.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const uniqueViolation = "23505"

func (p *Postgres) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx, `SELECT nextval('round_sequence')`).Scan(&seq)
	return seq, err
}

func (p *Postgres) CreateRound(ctx context.Context, r *Round) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rounds (id, sequence_number, server_seed, server_seed_hash,
			client_seed, crash_point, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.SequenceNumber, r.ServerSeed, r.ServerSeedHash,
		r.ClientSeed, r.CrashPoint, r.State, r.CreatedAt)
	return err
}

const roundColumns = `id, sequence_number, server_seed, server_seed_hash,
	client_seed, crash_point, state, started_at, ended_at, created_at`

func scanRound(row pgx.Row) (*Round, error) {
	var r Round
	err := row.Scan(&r.ID, &r.SequenceNumber, &r.ServerSeed, &r.ServerSeedHash,
		&r.ClientSeed, &r.CrashPoint, &r.State, &r.StartedAt, &r.EndedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) GetRound(ctx context.Context, id string) (*Round, error) {
	return scanRound(p.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
}

func (p *Postgres) OpenRound(ctx context.Context) (*Round, error) {
	return scanRound(p.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds
		 WHERE state <> 'crashed'
		 ORDER BY sequence_number DESC LIMIT 1`))
}

func (p *Postgres) MarkRoundActive(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rounds SET state = 'active', started_at = $2
		WHERE id = $1 AND state = 'pending'`, id, startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoundStateConflict
	}
	return nil
}

func (p *Postgres) MarkRoundCrashed(ctx context.Context, id string, endedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rounds SET state = 'crashed', ended_at = $2
		WHERE id = $1 AND state = 'active'`, id, endedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoundStateConflict
	}
	return nil
}

func (p *Postgres) CrashedRounds(ctx context.Context, limit int) ([]Round, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds
		 WHERE state = 'crashed'
		 ORDER BY sequence_number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.ID, &r.SequenceNumber, &r.ServerSeed, &r.ServerSeedHash,
			&r.ClientSeed, &r.CrashPoint, &r.State, &r.StartedAt, &r.EndedAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) PlaceBet(ctx context.Context, b *Bet) (float64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Share-lock the round row so a concurrent pending->active UPDATE
	// cannot commit between this check and the insert. Bets validated
	// against a stale snapshot fail here instead of landing on an
	// already-running round.
	var state RoundState
	err = tx.QueryRow(ctx, `SELECT state FROM rounds WHERE id = $1 FOR SHARE`,
		b.RoundID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if state != RoundPending {
		return 0, ErrRoundNotPending
	}

	// Debit only if the balance covers the stake. Zero rows means the
	// row is missing or too small; either way no money moved.
	var newBalance float64
	err = tx.QueryRow(ctx, `
		UPDATE balances SET amount = amount - $3, updated_at = now()
		WHERE user_id = $1 AND account_type = $2 AND amount >= $3
		RETURNING amount`,
		b.UserID, b.AccountType, b.Stake).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bets (id, round_id, user_id, account_type, stake, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.RoundID, b.UserID, b.AccountType, b.Stake, b.Status, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrDuplicateActiveBet
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

const betColumns = `id, round_id, user_id, account_type, stake, status,
	cashout_multiplier, profit, created_at, settled_at`

func (p *Postgres) CashOutBet(ctx context.Context, betID string, multiplier float64, settledAt time.Time) (*Bet, float64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	// The status guard is the linearization point: whichever of cashout
	// and crash settlement flips the row first wins.
	var b Bet
	err = tx.QueryRow(ctx, `
		UPDATE bets
		SET status = 'cashed_out',
		    cashout_multiplier = $2,
		    profit = stake * ($2 - 1),
		    settled_at = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+betColumns,
		betID, multiplier, settledAt).Scan(
		&b.ID, &b.RoundID, &b.UserID, &b.AccountType, &b.Stake, &b.Status,
		&b.CashoutMultiplier, &b.Profit, &b.CreatedAt, &b.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrBetNotActive
	}
	if err != nil {
		return nil, 0, err
	}

	var newBalance float64
	err = tx.QueryRow(ctx, `
		UPDATE balances SET amount = amount + $3, updated_at = now()
		WHERE user_id = $1 AND account_type = $2
		RETURNING amount`,
		b.UserID, b.AccountType, b.Stake*multiplier).Scan(&newBalance)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return &b, newBalance, nil
}

func (p *Postgres) SettleLostBets(ctx context.Context, roundID string, settledAt time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE bets
		SET status = 'lost', profit = -stake, settled_at = $2
		WHERE round_id = $1 AND status = 'active'`,
		roundID, settledAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) GetBet(ctx context.Context, id string) (*Bet, error) {
	var b Bet
	err := p.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1`, id).Scan(
		&b.ID, &b.RoundID, &b.UserID, &b.AccountType, &b.Stake, &b.Status,
		&b.CashoutMultiplier, &b.Profit, &b.CreatedAt, &b.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *Postgres) BetsForRound(ctx context.Context, roundID string) ([]Bet, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE round_id = $1 ORDER BY created_at`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		var b Bet
		if err := rows.Scan(&b.ID, &b.RoundID, &b.UserID, &b.AccountType, &b.Stake, &b.Status,
			&b.CashoutMultiplier, &b.Profit, &b.CreatedAt, &b.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) GetBalance(ctx context.Context, userID string, account AccountType) (*Balance, error) {
	var bal Balance
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, account_type, amount, updated_at
		FROM balances WHERE user_id = $1 AND account_type = $2`,
		userID, account).Scan(&bal.UserID, &bal.AccountType, &bal.Amount, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

func (p *Postgres) SetBalance(ctx context.Context, userID string, account AccountType, amount float64) (*Balance, error) {
	var bal Balance
	err := p.pool.QueryRow(ctx, `
		INSERT INTO balances (user_id, account_type, amount, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, account_type)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()
		RETURNING user_id, account_type, amount, updated_at`,
		userID, account, amount).Scan(&bal.UserID, &bal.AccountType, &bal.Amount, &bal.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &bal, nil
}
