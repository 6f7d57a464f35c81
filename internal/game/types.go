package game

import (
	"time"
)

// Event is the envelope for everything pushed over the distribution
// channel (websocket hub and Redis pub/sub).
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EventRoundCreated = "round_created"
	EventRoundStarted = "round_started"
	EventTick         = "tick"
	EventRoundCrashed = "round_crashed"
	EventBetPlaced    = "bet_placed"
	EventCashout      = "cashout"
)

type RoundCreatedData struct {
	RoundID        string    `json:"round_id"`
	SequenceNumber int64     `json:"sequence_number"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	BetsCloseAt    time.Time `json:"bets_close_at"`
}

type RoundStartedData struct {
	RoundID   string    `json:"round_id"`
	StartedAt time.Time `json:"started_at"`
}

type TickData struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
}

type RoundCrashedData struct {
	RoundID    string    `json:"round_id"`
	CrashPoint float64   `json:"crash_point"`
	ServerSeed string    `json:"server_seed"`
	EndedAt    time.Time `json:"ended_at"`
	BetsLost   int64     `json:"bets_lost"`
}

type BetPlacedData struct {
	RoundID string  `json:"round_id"`
	BetID   string  `json:"bet_id"`
	UserID  string  `json:"user_id"`
	Stake   float64 `json:"stake"`
}

type CashoutData struct {
	RoundID    string  `json:"round_id"`
	BetID      string  `json:"bet_id"`
	UserID     string  `json:"user_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}
