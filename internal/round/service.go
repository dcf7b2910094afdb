// Package round orchestrates the round lifecycle of the lotto engine:
// open (deposits) -> drawing (one draw) -> settled (one payout), then a
// fresh round. It is the only component that invokes the draw and payout
// engines, and it commits their results back through the ledger.
package round

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakelotto/lotto-engine/internal/draw"
	"github.com/stakelotto/lotto-engine/internal/eligibility"
	"github.com/stakelotto/lotto-engine/internal/identity"
	"github.com/stakelotto/lotto-engine/internal/ledger"
	"github.com/stakelotto/lotto-engine/internal/metrics"
	"github.com/stakelotto/lotto-engine/internal/model"
	"github.com/stakelotto/lotto-engine/internal/payout"
	"github.com/stakelotto/lotto-engine/internal/store"
)

// Seed size bounds for RequestDraw, in decoded bytes.
const (
	MinSeedBytes = 8
	MaxSeedBytes = 64
)

// ErrInvalidSeed is returned for draw seeds that are not hex or are
// outside the accepted size bounds.
var ErrInvalidSeed = errors.New("round: seed must be 8-64 bytes of hex")

// Config carries the engine settings the round controller enforces.
type Config struct {
	// DrawAuthority is the only identity allowed to close a round and
	// request a draw.
	DrawAuthority string

	// Split describes how the protocol fee is distributed at settlement.
	Split payout.FeeSplit

	// Exclusions lists identities that may stake but never win.
	Exclusions *eligibility.ExclusionList

	// MaxRollover bounds deterministic re-rolls past excluded winners.
	MaxRollover int
}

// Service handles round operations. A single mutex serializes all state
// mutation (single-instance); reads go straight to the store.
type Service struct {
	ledger *ledger.Ledger
	store  store.Store
	cfg    Config
	mu     sync.Mutex
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a round service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(led *ledger.Ledger, cfg Config, hub *WSHub) *Service {
	if cfg.Exclusions == nil {
		cfg.Exclusions = eligibility.NewExclusionList(nil)
	}
	return &Service{
		ledger: led,
		store:  led.Store(),
		cfg:    cfg,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /api/v1/deposit.
type DepositRequest struct {
	Identity string `json:"identity"`
	Amount   int64  `json:"amount"` // smallest units, multiple of ticket_price
}

// DepositResponse is returned from a successful deposit.
type DepositResponse struct {
	RoundID         uint64              `json:"round_id"`
	Identity        string              `json:"identity"`
	Amount          int64               `json:"amount"`
	Tickets         uint64              `json:"tickets"`
	Ranges          []model.TicketRange `json:"ranges"`
	TotalStaked     int64               `json:"total_staked"`
	NextTicketIndex uint64              `json:"next_ticket_index"`
}

// AuthorityRequest is the JSON body for close and settle calls.
type AuthorityRequest struct {
	Identity string `json:"identity"`
	RoundID  uint64 `json:"round_id,omitempty"` // settle only; 0 = latest settleable
}

// DrawRequest is the JSON body for POST /api/v1/rounds/draw. The seed is
// host-supplied entropy, hex encoded, finalized after the round closed.
type DrawRequest struct {
	Identity string `json:"identity"`
	Seed     string `json:"seed"`
}

// CloseResponse is returned from POST /api/v1/rounds/close.
type CloseResponse struct {
	RoundID     uint64              `json:"round_id"`
	State       string              `json:"state"`
	NextRoundID uint64              `json:"next_round_id,omitempty"`
	Payout      *model.PayoutRecord `json:"payout,omitempty"` // zero-stake short circuit
}

// ParticipantView is a participant snapshot with live odds.
type ParticipantView struct {
	Identity  string              `json:"identity"`
	Deposited int64               `json:"deposited"`
	Tickets   uint64              `json:"tickets"`
	Ranges    []model.TicketRange `json:"ranges"`
	Odds      decimal.Decimal     `json:"odds"`
}

// RoundView is the full inspection record of one round.
type RoundView struct {
	Pool         *model.Pool         `json:"pool"`
	Participants []ParticipantView   `json:"participants,omitempty"`
	Draw         *model.DrawResult   `json:"draw,omitempty"`
	Payout       *model.PayoutRecord `json:"payout,omitempty"`
}

// --- HTTP Handlers ---

// Deposit handles POST /api/v1/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := identity.Parse(req.Identity); err != nil {
		metrics.DepositRejections.WithLabelValues("identity").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	participant, pool, err := s.ledger.Deposit(ctx, req.Identity, req.Amount)
	s.mu.Unlock()
	if err != nil {
		metrics.DepositRejections.WithLabelValues(rejectReason(err)).Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.DepositsTotal.Inc()
	metrics.DepositedUnits.Add(float64(req.Amount))
	metrics.PoolBalance.Set(float64(pool.Balance))

	slog.Info("deposit accepted",
		"round", pool.RoundID,
		"identity", identity.Short(req.Identity),
		"amount", req.Amount,
		"tickets", participant.Tickets(),
		"total_staked", pool.TotalStaked,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "deposit_accepted",
			RoundID:     pool.RoundID,
			Identity:    req.Identity,
			Amount:      req.Amount,
			TotalStaked: pool.TotalStaked,
		})
	}

	writeJSON(w, http.StatusOK, DepositResponse{
		RoundID:         pool.RoundID,
		Identity:        participant.Identity,
		Amount:          req.Amount,
		Tickets:         participant.Tickets(),
		Ranges:          participant.Ranges,
		TotalStaked:     pool.TotalStaked,
		NextTicketIndex: pool.NextTicketIndex,
	})
}

// CloseRound handles POST /api/v1/rounds/close. Only the draw authority
// may close. A round with no deposits settles trivially in the same call:
// no draw result, zero payout.
func (s *Service) CloseRound(w http.ResponseWriter, r *http.Request) {
	var req AuthorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Identity != s.cfg.DrawAuthority {
		writeError(w, model.ErrUnauthorized.Error(), http.StatusForbidden)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.store.CurrentPool(ctx)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if pool.State != model.StateOpen {
		writeError(w, model.ErrInvalidState.Error(), http.StatusConflict)
		return
	}

	// Zero-stake rounds short-circuit straight to settled.
	if pool.TotalStaked == 0 {
		rec := payout.ZeroStakeRecord(pool, uuid.New().String(), time.Now().UTC())
		pool.State = model.StateSettled
		next := s.ledger.NewRound(pool.RoundID + 1)
		if err := s.store.CommitSettlement(ctx, pool, rec, next); err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}

		metrics.SettlementsTotal.Inc()
		metrics.CurrentRound.Set(float64(next.RoundID))
		metrics.PoolBalance.Set(0)

		slog.Info("round closed with zero stake", "round", pool.RoundID, "next_round", next.RoundID)
		s.broadcastState(pool.RoundID, model.StateSettled)

		writeJSON(w, http.StatusOK, CloseResponse{
			RoundID:     pool.RoundID,
			State:       model.StateSettled,
			NextRoundID: next.RoundID,
			Payout:      rec,
		})
		return
	}

	// The flip to drawing happens strictly before any seed is accepted,
	// so no deposit can land after entropy collection begins.
	if err := s.store.SetPoolState(ctx, pool.RoundID, model.StateDrawing); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("round closed",
		"round", pool.RoundID,
		"total_staked", pool.TotalStaked,
		"tickets", pool.NextTicketIndex,
	)
	s.broadcastState(pool.RoundID, model.StateDrawing)

	writeJSON(w, http.StatusOK, CloseResponse{
		RoundID: pool.RoundID,
		State:   model.StateDrawing,
	})
}

// RequestDraw handles POST /api/v1/rounds/draw. The caller must be the
// draw authority; exactly one draw is permitted per round, guarded by the
// persisted draw result.
func (s *Service) RequestDraw(w http.ResponseWriter, r *http.Request) {
	var req DrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Identity != s.cfg.DrawAuthority {
		writeError(w, model.ErrUnauthorized.Error(), http.StatusForbidden)
		return
	}
	seed, err := parseSeed(req.Seed)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.store.CurrentPool(ctx)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if pool.State != model.StateDrawing {
		writeError(w, model.ErrInvalidState.Error(), http.StatusConflict)
		return
	}
	if _, err := s.store.GetDrawResult(ctx, pool.RoundID); err == nil {
		// Exactly one draw per round.
		writeError(w, model.ErrInvalidState.Error(), http.StatusConflict)
		return
	} else if !errors.Is(err, model.ErrNotFound) {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	participants, err := s.store.ListParticipants(ctx, pool.RoundID)
	if err != nil {
		writeError(w, "failed to load participants", http.StatusInternalServerError)
		return
	}

	ticket, winner, rollover, err := draw.SelectEligibleWinner(
		seed, pool.NextTicketIndex, participants,
		s.cfg.Exclusions.Excluded, s.cfg.MaxRollover,
	)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	result := &model.DrawResult{
		RoundID:        pool.RoundID,
		Seed:           seed,
		WinningTicket:  ticket,
		WinnerIdentity: winner,
		Rollover:       rollover,
		DrawnAt:        time.Now().UTC(),
	}
	if err := s.store.InsertDrawResult(ctx, result); err != nil {
		writeError(w, "failed to record draw", http.StatusInternalServerError)
		return
	}

	metrics.DrawsTotal.Inc()
	metrics.RolloversTotal.Add(float64(rollover))

	slog.Info("draw completed",
		"round", pool.RoundID,
		"winning_ticket", ticket,
		"winner", identity.Short(winner),
		"rollover", rollover,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "draw_completed",
			RoundID:        pool.RoundID,
			WinningTicket:  ticket,
			WinnerIdentity: winner,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// Settle handles POST /api/v1/rounds/settle. Anyone may settle once a
// draw result exists — the outcome is already fixed. Exactly one payout
// per round, guarded by the persisted payout record.
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	var req AuthorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.settleTarget(ctx, req.RoundID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	// Persisted-record guard: survives restarts, unlike an in-memory flag.
	if _, err := s.store.GetPayoutRecord(ctx, pool.RoundID); err == nil {
		writeError(w, model.ErrAlreadySettled.Error(), http.StatusConflict)
		return
	} else if !errors.Is(err, model.ErrNotFound) {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if pool.State != model.StateDrawing {
		writeError(w, model.ErrInvalidState.Error(), http.StatusConflict)
		return
	}

	result, err := s.store.GetDrawResult(ctx, pool.RoundID)
	if errors.Is(err, model.ErrNotFound) {
		// Drawing but not yet drawn; nothing to settle.
		writeError(w, model.ErrInvalidState.Error(), http.StatusConflict)
		return
	} else if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rec, err := payout.Settle(pool, result, s.cfg.Split, uuid.New().String(), time.Now().UTC())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	// Debit both amounts before the state advance; if either fails the
	// round stays drawing and the call is safe to retry.
	if err := s.ledger.DebitForPayout(pool, rec.AmountToWinner); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if err := s.ledger.DebitForPayout(pool, rec.AmountFee); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	pool.State = model.StateSettled
	next := s.ledger.NewRound(pool.RoundID + 1)
	if err := s.store.CommitSettlement(ctx, pool, rec, next); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.SettlementsTotal.Inc()
	metrics.CurrentRound.Set(float64(next.RoundID))
	metrics.PoolBalance.Set(0)

	slog.Info("round settled",
		"round", pool.RoundID,
		"winner", identity.Short(result.WinnerIdentity),
		"amount_to_winner", rec.AmountToWinner,
		"amount_fee", rec.AmountFee,
		"next_round", next.RoundID,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "round_settled",
			RoundID:        pool.RoundID,
			WinnerIdentity: result.WinnerIdentity,
			AmountToWinner: rec.AmountToWinner,
			AmountFee:      rec.AmountFee,
		})
	}

	writeJSON(w, http.StatusOK, rec)
}

// settleTarget resolves which round a settle call applies to: an explicit
// round id, the current round while it is drawing, or — after the round
// already advanced — the predecessor, so retried settlements surface
// ErrAlreadySettled rather than a state error.
func (s *Service) settleTarget(ctx context.Context, explicit uint64) (*model.Pool, error) {
	if explicit != 0 {
		return s.store.GetPool(ctx, explicit)
	}
	pool, err := s.store.CurrentPool(ctx)
	if err != nil {
		return nil, err
	}
	if pool.State == model.StateOpen && pool.RoundID > 1 {
		return s.store.GetPool(ctx, pool.RoundID-1)
	}
	return pool, nil
}

// GetCurrentRound handles GET /api/v1/rounds/current.
func (s *Service) GetCurrentRound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pool, err := s.store.CurrentPool(ctx)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	view, err := s.roundView(ctx, pool)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetRound handles GET /api/v1/rounds/{roundID}.
func (s *Service) GetRound(w http.ResponseWriter, r *http.Request) {
	roundID, err := strconv.ParseUint(chi.URLParam(r, "roundID"), 10, 64)
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	pool, err := s.store.GetPool(ctx, roundID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	view, err := s.roundView(ctx, pool)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetParticipants handles GET /api/v1/rounds/{roundID}/participants.
func (s *Service) GetParticipants(w http.ResponseWriter, r *http.Request) {
	roundID, err := strconv.ParseUint(chi.URLParam(r, "roundID"), 10, 64)
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	pool, err := s.store.GetPool(ctx, roundID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	participants, err := s.store.ListParticipants(ctx, roundID)
	if err != nil {
		writeError(w, "failed to list participants", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, participantViews(participants, pool.NextTicketIndex))
}

// ListDraws handles GET /api/v1/draws. Returns draw history, newest first.
func (s *Service) ListDraws(w http.ResponseWriter, r *http.Request) {
	draws, err := s.store.ListDrawResults(r.Context())
	if err != nil {
		writeError(w, "failed to list draws", http.StatusInternalServerError)
		return
	}
	if draws == nil {
		draws = []model.DrawResult{}
	}
	writeJSON(w, http.StatusOK, draws)
}

// --- Helpers ---

func (s *Service) roundView(ctx context.Context, pool *model.Pool) (*RoundView, error) {
	participants, err := s.store.ListParticipants(ctx, pool.RoundID)
	if err != nil {
		return nil, err
	}

	view := &RoundView{
		Pool:         pool,
		Participants: participantViews(participants, pool.NextTicketIndex),
	}

	if d, err := s.store.GetDrawResult(ctx, pool.RoundID); err == nil {
		view.Draw = d
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if rec, err := s.store.GetPayoutRecord(ctx, pool.RoundID); err == nil {
		view.Payout = rec
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	return view, nil
}

func participantViews(participants []model.Participant, totalTickets uint64) []ParticipantView {
	views := make([]ParticipantView, 0, len(participants))
	for i := range participants {
		p := &participants[i]
		odds := decimal.Zero
		if totalTickets > 0 {
			odds = decimal.NewFromUint64(p.Tickets()).
				Div(decimal.NewFromUint64(totalTickets)).Round(6)
		}
		views = append(views, ParticipantView{
			Identity:  p.Identity,
			Deposited: p.Deposited,
			Tickets:   p.Tickets(),
			Ranges:    p.Ranges,
			Odds:      odds,
		})
	}
	return views
}

// parseSeed decodes and bounds-checks a hex seed.
func parseSeed(s string) ([]byte, error) {
	seed, err := hex.DecodeString(s)
	if err != nil || len(seed) < MinSeedBytes || len(seed) > MaxSeedBytes {
		return nil, ErrInvalidSeed
	}
	return seed, nil
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidAmount), errors.Is(err, draw.ErrSeedRequired):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrAlreadySettled),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrEmptyPool),
		errors.Is(err, eligibility.ErrOddsLimitExceeded),
		errors.Is(err, draw.ErrNoEligibleWinner):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// rejectReason labels a deposit failure for metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidAmount):
		return "amount"
	case errors.Is(err, model.ErrInvalidState):
		return "state"
	case errors.Is(err, eligibility.ErrOddsLimitExceeded):
		return "odds"
	default:
		return "other"
	}
}

func (s *Service) broadcastState(roundID uint64, state string) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:    "round_state",
		RoundID: roundID,
		State:   state,
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
