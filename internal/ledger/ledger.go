// Package ledger owns every balance mutation. Bets and cashouts settle
// through the repository's conditional updates, so a bet leaves active
// status exactly once: either a cashout credits it or crash settlement
// marks it lost, never both.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crashx/internal/logger"
	"crashx/internal/metrics"
	"crashx/internal/store"
)

type Ledger struct {
	store    store.Store
	minStake float64
	maxStake float64
	metrics  *metrics.Metrics
}

func New(st store.Store, minStake, maxStake float64) *Ledger {
	return &Ledger{store: st, minStake: minStake, maxStake: maxStake}
}

// WithMetrics attaches bet/cashout counters. Optional; tests run without.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

// CashoutResult is what a successful cashout pays.
type CashoutResult struct {
	Bet         *store.Bet
	Multiplier  float64
	Profit      float64
	TotalPayout float64
	NewBalance  float64
}

// PlaceBet validates against the given round snapshot and then debits
// the stake and creates the bet as one atomic repository operation.
// Bets are accepted while the round is pending only; once the multiplier
// starts rising, placement is closed.
func (l *Ledger) PlaceBet(ctx context.Context, round store.Round, userID string, account store.AccountType, stake float64) (*store.Bet, float64, error) {
	if !account.Valid() {
		return nil, 0, ErrUnsupportedAccount
	}
	if stake < l.minStake || stake > l.maxStake {
		return nil, 0, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]", ErrInvalidStake, stake, l.minStake, l.maxStake)
	}
	if round.State != store.RoundPending {
		return nil, 0, ErrBettingClosed
	}

	bet := &store.Bet{
		ID:          uuid.NewString(),
		RoundID:     round.ID,
		UserID:      userID,
		AccountType: account,
		Stake:       stake,
		Status:      store.BetActive,
		CreatedAt:   time.Now().UTC(),
	}

	newBalance, err := l.store.PlaceBet(ctx, bet)
	if errors.Is(err, store.ErrRoundNotPending) {
		// The round advanced between the snapshot and the debit; the
		// store re-checks inside the atomic unit and this bet lost.
		return nil, 0, ErrBettingClosed
	}
	if err != nil {
		return nil, 0, err
	}

	if l.metrics != nil {
		l.metrics.BetsPlaced.Inc()
	}
	logger.Log.Infow("bet placed",
		"bet_id", bet.ID, "round_id", round.ID, "user_id", userID,
		"account", account, "stake", stake, "balance", newBalance)
	return bet, newBalance, nil
}

// CashOut settles a winning bet. The multiplier paid is the server's own
// value at call time; the client's claim only ever lowers it. Losing the
// race against crash settlement returns a conflict, not a payout.
func (l *Ledger) CashOut(ctx context.Context, betID string, claimedMultiplier float64, round store.Round, serverMultiplier float64) (*CashoutResult, error) {
	if round.State != store.RoundActive {
		return nil, ErrRoundNotActive
	}
	if serverMultiplier < 1.00 {
		return nil, ErrInvalidMultiplier
	}

	multiplier := serverMultiplier
	if claimedMultiplier > 0 && claimedMultiplier < multiplier {
		multiplier = claimedMultiplier
	}
	if multiplier < 1.00 {
		return nil, ErrInvalidMultiplier
	}

	bet, err := l.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.RoundID != round.ID {
		return nil, ErrWrongRound
	}
	if bet.Status != store.BetActive {
		return nil, ErrBetSettled
	}

	settled, newBalance, err := l.store.CashOutBet(ctx, betID, multiplier, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	res := &CashoutResult{
		Bet:         settled,
		Multiplier:  multiplier,
		Profit:      *settled.Profit,
		TotalPayout: settled.Stake * multiplier,
		NewBalance:  newBalance,
	}
	if l.metrics != nil {
		l.metrics.Cashouts.Inc()
	}
	logger.Log.Infow("cashout",
		"bet_id", betID, "round_id", round.ID, "multiplier", multiplier,
		"payout", res.TotalPayout, "balance", newBalance)
	return res, nil
}

// SettleCrash closes every still-active bet on the round as lost. The
// round clock calls this exactly once, at the crash transition. Stakes
// were debited at placement, so no balance moves here.
func (l *Ledger) SettleCrash(ctx context.Context, roundID string) (int64, error) {
	n, err := l.store.SettleLostBets(ctx, roundID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Log.Infow("crash settlement", "round_id", roundID, "bets_lost", n)
	}
	return n, nil
}

// Balance reads a user's balance; a missing row reads as zero.
func (l *Ledger) Balance(ctx context.Context, userID string, account store.AccountType) (float64, error) {
	if !account.Valid() {
		return 0, ErrUnsupportedAccount
	}
	bal, err := l.store.GetBalance(ctx, userID, account)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.Amount, nil
}

// SetBalance is the admin/test deposit surface.
func (l *Ledger) SetBalance(ctx context.Context, userID string, account store.AccountType, amount float64) (*store.Balance, error) {
	if !account.Valid() {
		return nil, ErrUnsupportedAccount
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: balance cannot be negative", ErrInvalidStake)
	}
	return l.store.SetBalance(ctx, userID, account, amount)
}
