package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"crashx/internal/fair"
	"crashx/internal/game"
	"crashx/internal/ledger"
	"crashx/internal/logger"
	"crashx/internal/store"
)

// errorJSON maps the settlement error taxonomy onto HTTP. Precondition
// and conflict failures share 409 but carry distinct codes so clients
// can render "too late" differently from "insufficient balance".
func errorJSON(c *fiber.Ctx, err error) error {
	status, code := 500, "internal"
	switch ledger.Classify(err) {
	case ledger.ClassValidation:
		status, code = 400, "validation"
	case ledger.ClassPrecondition:
		status, code = 409, "precondition_failed"
	case ledger.ClassConflict:
		status, code = 409, "conflict"
	case ledger.ClassNotFound:
		status, code = 404, "not_found"
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": code})
}

// Bet handlers

type placeBetBody struct {
	RoundID     string  `json:"round_id"`
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	AccountType string  `json:"account_type"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var body placeBetBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body", "code": "validation"})
	}
	if body.UserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "user_id is required", "code": "validation"})
	}

	snap, ok := s.clock.Snapshot()
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "no open round", "code": "not_found"})
	}
	if body.RoundID != "" && body.RoundID != snap.Round.ID {
		return c.Status(409).JSON(fiber.Map{"error": "round is no longer open", "code": "precondition_failed"})
	}

	bet, newBalance, err := s.ledger.PlaceBet(c.Context(), snap.Round, body.UserID,
		store.AccountType(body.AccountType), body.Amount)
	if err != nil {
		return errorJSON(c, err)
	}

	s.hub.Broadcast(game.Event{Type: game.EventBetPlaced, Data: game.BetPlacedData{
		RoundID: bet.RoundID,
		BetID:   bet.ID,
		UserID:  bet.UserID,
		Stake:   bet.Stake,
	}})

	return c.Status(201).JSON(fiber.Map{
		"bet":         bet,
		"new_balance": newBalance,
	})
}

type cashoutBody struct {
	BetID             string  `json:"bet_id"`
	ClaimedMultiplier float64 `json:"claimed_multiplier"`
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var body cashoutBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body", "code": "validation"})
	}
	if body.BetID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "bet_id is required", "code": "validation"})
	}

	snap, ok := s.clock.Snapshot()
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "no open round", "code": "not_found"})
	}

	res, err := s.ledger.CashOut(c.Context(), body.BetID, body.ClaimedMultiplier, snap.Round, snap.Multiplier)
	if err != nil {
		return errorJSON(c, err)
	}

	s.hub.Broadcast(game.Event{Type: game.EventCashout, Data: game.CashoutData{
		RoundID:    res.Bet.RoundID,
		BetID:      res.Bet.ID,
		UserID:     res.Bet.UserID,
		Multiplier: res.Multiplier,
		Payout:     res.TotalPayout,
	}})

	return c.JSON(fiber.Map{
		"profit":             res.Profit,
		"total_payout":       res.TotalPayout,
		"cashout_multiplier": res.Multiplier,
		"new_balance":        res.NewBalance,
	})
}

// Round handlers

func (s *FiberServer) currentRoundHandler(c *fiber.Ctx) error {
	snap, ok := s.clock.Snapshot()
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "no active game round", "code": "not_found"})
	}
	return c.JSON(fiber.Map{
		"round":      snap.Round.Public(),
		"multiplier": snap.Multiplier,
	})
}

func (s *FiberServer) createRoundHandler(c *fiber.Ctx) error {
	if snap, ok := s.clock.Snapshot(); ok && snap.Round.State != store.RoundCrashed {
		return c.JSON(fiber.Map{"round": snap.Round.Public()})
	}
	round, err := s.clock.RequestNewRound()
	if err != nil {
		return c.Status(503).JSON(fiber.Map{"error": err.Error(), "code": "unavailable"})
	}
	return c.Status(201).JSON(fiber.Map{"round": round.Public()})
}

type transitionBody struct {
	RoundID string `json:"round_id"`
	Status  string `json:"status"`
}

// transitionRoundHandler accepts client-submitted transitions but the
// clock re-validates them against its own elapsed-time computation; a
// client can never advance a round early.
func (s *FiberServer) transitionRoundHandler(c *fiber.Ctx) error {
	var body transitionBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body", "code": "validation"})
	}
	if body.RoundID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "round_id is required", "code": "validation"})
	}

	target := store.RoundState(body.Status)
	if target != store.RoundActive && target != store.RoundCrashed {
		return c.Status(400).JSON(fiber.Map{"error": "status must be active or crashed", "code": "validation"})
	}

	err := s.clock.RequestTransition(body.RoundID, target)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "round not found", "code": "not_found"})
	case errors.Is(err, game.ErrTransitionTooEarly):
		return c.Status(409).JSON(fiber.Map{"error": err.Error(), "code": "precondition_failed"})
	case errors.Is(err, store.ErrRoundStateConflict):
		return c.Status(409).JSON(fiber.Map{"error": err.Error(), "code": "conflict"})
	case errors.Is(err, game.ErrClockBusy):
		return c.Status(503).JSON(fiber.Map{"error": err.Error(), "code": "unavailable"})
	default:
		return errorJSON(c, err)
	}

	snap, _ := s.clock.Snapshot()
	return c.JSON(fiber.Map{"round": snap.Round.Public()})
}

// roundHistoryHandler exposes, per crashed round, everything a third
// party needs to run the verifier: seed, commitment, client seed,
// sequence number and crash point.
func (s *FiberServer) roundHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	rounds, err := s.store.CrashedRounds(c.Context(), limit)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"rounds": rounds})
}

// Fairness verifier

type verifyBody struct {
	ServerSeed     string  `json:"server_seed"`
	ServerSeedHash string  `json:"server_seed_hash"`
	ClientSeed     string  `json:"client_seed"`
	SequenceNumber int64   `json:"sequence_number"`
	CrashPoint     float64 `json:"crash_point"`
}

func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var body verifyBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body", "code": "validation"})
	}
	if body.ServerSeed == "" || body.ServerSeedHash == "" {
		return c.Status(400).JSON(fiber.Map{"error": "server_seed and server_seed_hash are required", "code": "validation"})
	}

	result := fair.Verify(body.ServerSeed, body.ServerSeedHash, body.ClientSeed,
		body.SequenceNumber, body.CrashPoint)
	return c.JSON(fiber.Map{
		"is_valid":             result.Valid(),
		"hash_match":           result.HashMatch,
		"value_match":          result.ValueMatch,
		"expected_crash_point": result.Expected,
	})
}

// Balance handlers

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	account := store.AccountType(c.Query("account_type", string(store.AccountDemo)))

	amount, err := s.ledger.Balance(c.Context(), userID, account)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id":      userID,
		"account_type": account,
		"balance":      amount,
	})
}

type setBalanceBody struct {
	AccountType string  `json:"account_type"`
	Balance     float64 `json:"balance"`
}

func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	var body setBalanceBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body", "code": "validation"})
	}
	if body.AccountType == "" {
		body.AccountType = string(store.AccountDemo)
	}

	bal, err := s.ledger.SetBalance(c.Context(), userID, store.AccountType(body.AccountType), body.Balance)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id":      bal.UserID,
		"account_type": bal.AccountType,
		"balance":      bal.Amount,
	})
}

// WebSocket handler

type wsRequest struct {
	Type              string  `json:"type"`
	RoundID           string  `json:"round_id,omitempty"`
	Amount            float64 `json:"amount,omitempty"`
	AccountType       string  `json:"account_type,omitempty"`
	BetID             string  `json:"bet_id,omitempty"`
	ClaimedMultiplier float64 `json:"claimed_multiplier,omitempty"`
}

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	client := s.hub.RegisterClient(conn, userID)

	if snap, ok := s.clock.Snapshot(); ok {
		client.Send(game.Event{Type: "initial_state", Data: fiber.Map{
			"round":      snap.Round.Public(),
			"multiplier": snap.Multiplier,
		}})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.hub.UnregisterClient(conn)
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}

		switch req.Type {
		case "place_bet":
			snap, ok := s.clock.Snapshot()
			if !ok {
				client.Send(game.Event{Type: "error", Data: fiber.Map{"error": "no open round"}})
				continue
			}
			bet, newBalance, err := s.ledger.PlaceBet(context.Background(), snap.Round, userID,
				store.AccountType(req.AccountType), req.Amount)
			if err != nil {
				client.Send(game.Event{Type: "bet_rejected", Data: fiber.Map{"error": err.Error()}})
				continue
			}
			client.Send(game.Event{Type: "bet_accepted", Data: fiber.Map{
				"bet":         bet,
				"new_balance": newBalance,
			}})
			s.hub.Broadcast(game.Event{Type: game.EventBetPlaced, Data: game.BetPlacedData{
				RoundID: bet.RoundID, BetID: bet.ID, UserID: userID, Stake: bet.Stake,
			}})

		case "cashout":
			snap, ok := s.clock.Snapshot()
			if !ok {
				client.Send(game.Event{Type: "error", Data: fiber.Map{"error": "no open round"}})
				continue
			}
			res, err := s.ledger.CashOut(context.Background(), req.BetID, req.ClaimedMultiplier,
				snap.Round, snap.Multiplier)
			if err != nil {
				client.Send(game.Event{Type: "cashout_rejected", Data: fiber.Map{"error": err.Error()}})
				continue
			}
			client.Send(game.Event{Type: "cashout_accepted", Data: fiber.Map{
				"profit":             res.Profit,
				"total_payout":       res.TotalPayout,
				"cashout_multiplier": res.Multiplier,
				"new_balance":        res.NewBalance,
			}})
			s.hub.Broadcast(game.Event{Type: game.EventCashout, Data: game.CashoutData{
				RoundID: res.Bet.RoundID, BetID: res.Bet.ID, UserID: userID,
				Multiplier: res.Multiplier, Payout: res.TotalPayout,
			}})

		case "ping":
			client.Send(game.Event{Type: "pong"})

		default:
			logger.Log.Debugw("unknown ws message", "type", req.Type, "user_id", userID)
		}
	}
}
