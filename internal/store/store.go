// Package store owns durable round, bet and balance records and the
// single-row conditional updates the settlement layer depends on. Every
// money-moving method couples the balance change and the bet row change
// in one atomic unit and reports lost races via sentinel errors.
package store

import (
	"context"
	"errors"
	"time"
)

type RoundState string

const (
	RoundPending RoundState = "pending"
	RoundActive  RoundState = "active"
	RoundCrashed RoundState = "crashed"
)

type AccountType string

const (
	AccountDemo AccountType = "demo"
	AccountReal AccountType = "real"
)

func (a AccountType) Valid() bool {
	return a == AccountDemo || a == AccountReal
}

type BetStatus string

const (
	BetActive    BetStatus = "active"
	BetCashedOut BetStatus = "cashed_out"
	BetLost      BetStatus = "lost"
)

type Round struct {
	ID             string     `json:"id"`
	SequenceNumber int64      `json:"sequence_number"`
	ServerSeed     string     `json:"server_seed,omitempty"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed"`
	CrashPoint     float64    `json:"crash_point,omitempty"`
	State          RoundState `json:"state"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Public strips the fields that must stay hidden until the round crashes.
func (r Round) Public() Round {
	if r.State != RoundCrashed {
		r.ServerSeed = ""
		r.CrashPoint = 0
	}
	return r
}

type Bet struct {
	ID                string      `json:"id"`
	RoundID           string      `json:"round_id"`
	UserID            string      `json:"user_id"`
	AccountType       AccountType `json:"account_type"`
	Stake             float64     `json:"stake"`
	Status            BetStatus   `json:"status"`
	CashoutMultiplier *float64    `json:"cashout_multiplier,omitempty"`
	Profit            *float64    `json:"profit,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	SettledAt         *time.Time  `json:"settled_at,omitempty"`
}

type Balance struct {
	UserID      string      `json:"user_id"`
	AccountType AccountType `json:"account_type"`
	Amount      float64     `json:"amount"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

var (
	ErrNotFound            = errors.New("store: record not found")
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	ErrDuplicateActiveBet  = errors.New("store: user already has an active bet on this round")
	ErrBetNotActive        = errors.New("store: bet is not active")
	ErrRoundNotPending     = errors.New("store: round is no longer accepting bets")
	ErrRoundStateConflict  = errors.New("store: round is not in the expected state")
)

// Store is the repository contract. Postgres backs it in production; an
// in-memory implementation with the same conditional-update semantics
// backs unit tests.
type Store interface {
	// NextSequence reserves the next monotonic round sequence number,
	// used as the nonce in crash point derivation.
	NextSequence(ctx context.Context) (int64, error)

	CreateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, id string) (*Round, error)
	// OpenRound returns the latest round that has not crashed yet.
	OpenRound(ctx context.Context) (*Round, error)
	// MarkRoundActive transitions pending->active; ErrRoundStateConflict
	// if the round is not pending.
	MarkRoundActive(ctx context.Context, id string, startedAt time.Time) error
	// MarkRoundCrashed transitions active->crashed and makes the server
	// seed eligible for reveal; ErrRoundStateConflict if not active.
	MarkRoundCrashed(ctx context.Context, id string, endedAt time.Time) error
	// CrashedRounds returns recent crashed rounds, newest first, with
	// seeds revealed.
	CrashedRounds(ctx context.Context, limit int) ([]Round, error)

	// PlaceBet atomically debits stake from the balance (only if the
	// balance covers it) and inserts the bet in active status. The round
	// must still be pending inside the same atomic unit; a snapshot that
	// went stale gets ErrRoundNotPending. Returns the post-debit balance.
	// ErrRoundNotPending, ErrInsufficientBalance and ErrDuplicateActiveBet
	// leave no partial effect.
	PlaceBet(ctx context.Context, b *Bet) (float64, error)
	// CashOutBet atomically flips the bet active->cashed_out at the given
	// multiplier and credits stake+profit back to the balance. Exactly one
	// of CashOutBet/SettleLostBets wins a racing bet; the loser gets
	// ErrBetNotActive and mutates nothing.
	CashOutBet(ctx context.Context, betID string, multiplier float64, settledAt time.Time) (*Bet, float64, error)
	// SettleLostBets marks every still-active bet on the round as lost
	// with profit = -stake. No balance movement: stakes were debited at
	// placement. Returns how many bets were settled.
	SettleLostBets(ctx context.Context, roundID string, settledAt time.Time) (int64, error)
	GetBet(ctx context.Context, id string) (*Bet, error)
	BetsForRound(ctx context.Context, roundID string) ([]Bet, error)

	GetBalance(ctx context.Context, userID string, account AccountType) (*Balance, error)
	// SetBalance upserts a balance row (admin/test surface).
	SetBalance(ctx context.Context, userID string, account AccountType, amount float64) (*Balance, error)
}
