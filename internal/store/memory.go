package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store with the same conditional-update
// semantics as the Postgres implementation. One mutex stands in for the
// row-level atomicity the database provides.
type Memory struct {
	mu       sync.Mutex
	sequence int64
	rounds   map[string]*Round
	bets     map[string]*Bet
	balances map[balanceKey]*Balance
}

type balanceKey struct {
	userID  string
	account AccountType
}

func NewMemory() *Memory {
	return &Memory{
		rounds:   make(map[string]*Round),
		bets:     make(map[string]*Bet),
		balances: make(map[balanceKey]*Balance),
	}
}

func (m *Memory) NextSequence(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence++
	return m.sequence, nil
}

func (m *Memory) CreateRound(ctx context.Context, r *Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rounds[r.ID] = &cp
	return nil
}

func (m *Memory) GetRound(ctx context.Context, id string) (*Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) OpenRound(ctx context.Context) (*Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Round
	for _, r := range m.rounds {
		if r.State == RoundCrashed {
			continue
		}
		if latest == nil || r.SequenceNumber > latest.SequenceNumber {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) MarkRoundActive(ctx context.Context, id string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return ErrNotFound
	}
	if r.State != RoundPending {
		return ErrRoundStateConflict
	}
	r.State = RoundActive
	t := startedAt
	r.StartedAt = &t
	return nil
}

func (m *Memory) MarkRoundCrashed(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return ErrNotFound
	}
	if r.State != RoundActive {
		return ErrRoundStateConflict
	}
	r.State = RoundCrashed
	t := endedAt
	r.EndedAt = &t
	return nil
}

func (m *Memory) CrashedRounds(ctx context.Context, limit int) ([]Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Round
	for _, r := range m.rounds {
		if r.State == RoundCrashed {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNumber > out[j].SequenceNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PlaceBet(ctx context.Context, b *Bet) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[b.RoundID]
	if !ok {
		return 0, ErrNotFound
	}
	if r.State != RoundPending {
		return 0, ErrRoundNotPending
	}

	for _, existing := range m.bets {
		if existing.RoundID == b.RoundID &&
			existing.UserID == b.UserID &&
			existing.AccountType == b.AccountType &&
			existing.Status == BetActive {
			return 0, ErrDuplicateActiveBet
		}
	}

	key := balanceKey{b.UserID, b.AccountType}
	bal, ok := m.balances[key]
	if !ok || bal.Amount < b.Stake {
		return 0, ErrInsufficientBalance
	}

	bal.Amount -= b.Stake
	bal.UpdatedAt = time.Now()

	cp := *b
	m.bets[b.ID] = &cp
	return bal.Amount, nil
}

func (m *Memory) CashOutBet(ctx context.Context, betID string, multiplier float64, settledAt time.Time) (*Bet, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bets[betID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	if b.Status != BetActive {
		return nil, 0, ErrBetNotActive
	}

	profit := b.Stake * (multiplier - 1)
	b.Status = BetCashedOut
	mult := multiplier
	b.CashoutMultiplier = &mult
	b.Profit = &profit
	t := settledAt
	b.SettledAt = &t

	key := balanceKey{b.UserID, b.AccountType}
	bal, ok := m.balances[key]
	if !ok {
		bal = &Balance{UserID: b.UserID, AccountType: b.AccountType}
		m.balances[key] = bal
	}
	bal.Amount += b.Stake + profit
	bal.UpdatedAt = time.Now()

	cp := *b
	return &cp, bal.Amount, nil
}

func (m *Memory) SettleLostBets(ctx context.Context, roundID string, settledAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, b := range m.bets {
		if b.RoundID != roundID || b.Status != BetActive {
			continue
		}
		b.Status = BetLost
		loss := -b.Stake
		b.Profit = &loss
		t := settledAt
		b.SettledAt = &t
		n++
	}
	return n, nil
}

func (m *Memory) GetBet(ctx context.Context, id string) (*Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) BetsForRound(ctx context.Context, roundID string) ([]Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bet
	for _, b := range m.bets {
		if b.RoundID == roundID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetBalance(ctx context.Context, userID string, account AccountType) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[balanceKey{userID, account}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *bal
	return &cp, nil
}

func (m *Memory) SetBalance(ctx context.Context, userID string, account AccountType, amount float64) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{userID, account}
	bal, ok := m.balances[key]
	if !ok {
		bal = &Balance{UserID: userID, AccountType: account}
		m.balances[key] = bal
	}
	bal.Amount = amount
	bal.UpdatedAt = time.Now()
	cp := *bal
	return &cp, nil
}
