package round_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/stakelotto/lotto-engine/internal/eligibility"
	"github.com/stakelotto/lotto-engine/internal/ledger"
	"github.com/stakelotto/lotto-engine/internal/model"
	"github.com/stakelotto/lotto-engine/internal/payout"
	"github.com/stakelotto/lotto-engine/internal/round"
	"github.com/stakelotto/lotto-engine/internal/store"
)

var (
	identA    = strings.Repeat("A", 32)
	identB    = strings.Repeat("B", 32)
	authority = strings.Repeat("Q", 32)
	treasury  = strings.Repeat("T", 32)
	equity    = strings.Repeat("E", 32)
	testSeed  = hex.EncodeToString([]byte("finalized-host-entropy"))
)

// newTestEnv creates a round service over an in-memory store with ticket
// price 100, a 5% fee, and no odds limit.
func newTestEnv(t *testing.T, excluded ...string) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	led, err := ledger.New(ms, 100, 500, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := led.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	svc := round.NewService(led, round.Config{
		DrawAuthority: authority,
		Split: payout.FeeSplit{
			TreasuryIdentity: treasury,
		},
		Exclusions:  eligibility.NewExclusionList(excluded),
		MaxRollover: 3,
	}, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/deposit", svc.Deposit)
	r.Post("/api/v1/rounds/close", svc.CloseRound)
	r.Post("/api/v1/rounds/draw", svc.RequestDraw)
	r.Post("/api/v1/rounds/settle", svc.Settle)
	r.Get("/api/v1/rounds/current", svc.GetCurrentRound)
	r.Get("/api/v1/rounds/{roundID}", svc.GetRound)
	r.Get("/api/v1/rounds/{roundID}/participants", svc.GetParticipants)
	r.Get("/api/v1/draws", svc.ListDraws)

	return ms, r
}

func post(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func deposit(t *testing.T, router chi.Router, identity string, amount int64) round.DepositResponse {
	t.Helper()
	w := post(t, router, "/api/v1/deposit", round.DepositRequest{Identity: identity, Amount: amount})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit %s %d: %d %s", identity, amount, w.Code, w.Body.String())
	}
	var resp round.DepositResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func closeRound(t *testing.T, router chi.Router) round.CloseResponse {
	t.Helper()
	w := post(t, router, "/api/v1/rounds/close", round.AuthorityRequest{Identity: authority})
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	var resp round.CloseResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func requestDraw(t *testing.T, router chi.Router, seed string) model.DrawResult {
	t.Helper()
	w := post(t, router, "/api/v1/rounds/draw", round.DrawRequest{Identity: authority, Seed: seed})
	if w.Code != http.StatusOK {
		t.Fatalf("draw: %d %s", w.Code, w.Body.String())
	}
	var result model.DrawResult
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// --- Lifecycle tests ---

func TestFullRoundLifecycle(t *testing.T) {
	ms, router := newTestEnv(t)

	// A stakes 300, B stakes 700: tickets [0,3) and [3,10).
	respA := deposit(t, router, identA, 300)
	respB := deposit(t, router, identB, 700)

	if respA.Tickets != 3 || respB.Tickets != 7 {
		t.Fatalf("tickets: A=%d B=%d, want 3 and 7", respA.Tickets, respB.Tickets)
	}
	if respB.TotalStaked != 1000 || respB.NextTicketIndex != 10 {
		t.Fatalf("pool after deposits: staked=%d cursor=%d", respB.TotalStaked, respB.NextTicketIndex)
	}

	closed := closeRound(t, router)
	if closed.State != model.StateDrawing {
		t.Fatalf("state after close = %s, want drawing", closed.State)
	}

	result := requestDraw(t, router, testSeed)
	if result.WinningTicket >= 10 {
		t.Errorf("winning ticket %d out of range", result.WinningTicket)
	}
	wantWinner := identA
	if result.WinningTicket >= 3 {
		wantWinner = identB
	}
	if result.WinnerIdentity != wantWinner {
		t.Errorf("winner %s does not own ticket %d", result.WinnerIdentity, result.WinningTicket)
	}

	w := post(t, router, "/api/v1/rounds/settle", round.AuthorityRequest{Identity: authority})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: %d %s", w.Code, w.Body.String())
	}
	var rec model.PayoutRecord
	json.Unmarshal(w.Body.Bytes(), &rec)

	// 5% of 1000 is the fee; the winner takes the rest.
	if rec.AmountFee != 50 {
		t.Errorf("fee = %d, want 50", rec.AmountFee)
	}
	if rec.AmountToWinner != 950 {
		t.Errorf("winner amount = %d, want 950", rec.AmountToWinner)
	}

	// Round 1 is settled with a zero balance; round 2 is open and empty.
	settled, err := ms.GetPool(context.Background(), 1)
	if err != nil {
		t.Fatalf("get round 1: %v", err)
	}
	if settled.State != model.StateSettled || settled.Balance != 0 {
		t.Errorf("round 1 after settle: state=%s balance=%d", settled.State, settled.Balance)
	}
	current, err := ms.CurrentPool(context.Background())
	if err != nil {
		t.Fatalf("current pool: %v", err)
	}
	if current.RoundID != 2 || current.State != model.StateOpen || current.TotalStaked != 0 {
		t.Errorf("round 2 = %+v, want fresh open round", current)
	}

	// Deposits flow into the new round immediately.
	respC := deposit(t, router, identA, 100)
	if respC.RoundID != 2 || respC.Ranges[0].Start != 0 {
		t.Errorf("deposit after settle = %+v, want round 2 ticket 0", respC)
	}
}

func TestSettle_TwiceFails(t *testing.T) {
	_, router := newTestEnv(t)

	deposit(t, router, identA, 300)
	deposit(t, router, identB, 700)
	closeRound(t, router)
	requestDraw(t, router, testSeed)

	w := post(t, router, "/api/v1/rounds/settle", round.AuthorityRequest{Identity: authority})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: %d %s", w.Code, w.Body.String())
	}

	// The round already advanced, so a retry targets the settled round.
	w = post(t, router, "/api/v1/rounds/settle", round.AuthorityRequest{Identity: authority})
	if w.Code != http.StatusConflict {
		t.Errorf("re-settle: %d, want 409", w.Code)
	}

	// Explicitly naming the settled round fails the same way.
	w = post(t, router, "/api/v1/rounds/settle", round.AuthorityRequest{Identity: authority, RoundID: 1})
	if w.Code != http.StatusConflict {
		t.Errorf("re-settle round 1: %d, want 409", w.Code)
	}
}

func TestCloseRound_ZeroStake(t *testing.T) {
	ms, router := newTestEnv(t)

	resp := closeRound(t, router)
	if resp.State != model.StateSettled {
		t.Fatalf("state = %s, want settled", resp.State)
	}
	if resp.Payout == nil || resp.Payout.AmountToWinner != 0 || resp.Payout.AmountFee != 0 {
		t.Errorf("zero-stake payout = %+v", resp.Payout)
	}
	if resp.NextRoundID != 2 {
		t.Errorf("next round = %d, want 2", resp.NextRoundID)
	}

	// No draw result exists for the empty round.
	if _, err := ms.GetDrawResult(context.Background(), 1); err == nil {
		t.Error("zero-stake round should have no draw result")
	}

	// The new round accepts deposits.
	resp2 := deposit(t, router, identA, 100)
	if resp2.RoundID != 2 {
		t.Errorf("deposit went to round %d, want 2", resp2.RoundID)
	}
}

func TestCloseRound_Unauthorized(t *testing.T) {
	_, router := newTestEnv(t)
	deposit(t, router, identA, 300)

	w := post(t, router, "/api/v1/rounds/close", round.AuthorityRequest{Identity: identA})
	if w.Code != http.StatusForbidden {
		t.Errorf("close by non-authority: %d, want 403", w.Code)
	}
}

func TestRequestDraw_Unauthorized(t *testing.T) {
	_, router := newTestEnv(t)
	deposit(t, router, identA, 300)
	closeRound(t, router)

	w := post(t, router, "/api/v1/rounds/draw", round.DrawRequest{Identity: identA, Seed: testSeed})
	if w.Code != http.StatusForbidden {
		t.Errorf("draw by non-authority: %d, want 403", w.Code)
	}
}

func TestDeposit_Rejections(t *testing.T) {
	_, router := newTestEnv(t)

	cases := []struct {
		name     string
		identity string
		amount   int64
		want     int
	}{
		{"zero amount", identA, 0, http.StatusBadRequest},
		{"negative amount", identA, -100, http.StatusBadRequest},
		{"not a ticket multiple", identA, 150, http.StatusBadRequest},
		{"malformed identity", "not-an-identity", 100, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := post(t, router, "/api/v1/deposit", round.DepositRequest{
				Identity: tc.identity, Amount: tc.amount,
			})
			if w.Code != tc.want {
				t.Errorf("got %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestDeposit_AfterCloseRejected(t *testing.T) {
	_, router := newTestEnv(t)

	deposit(t, router, identA, 300)
	closeRound(t, router)

	w := post(t, router, "/api/v1/deposit", round.DepositRequest{Identity: identB, Amount: 100})
	if w.Code != http.StatusConflict {
		t.Errorf("deposit after close: %d, want 409", w.Code)
	}
}

func TestRequestDraw_Rejections(t *testing.T) {
	_, router := newTestEnv(t)
	deposit(t, router, identA, 300)

	// Round still open.
	w := post(t, router, "/api/v1/rounds/draw", round.DrawRequest{Identity: authority, Seed: testSeed})
	if w.Code != http.StatusConflict {
		t.Errorf("draw while open: %d, want 409", w.Code)
	}

	closeRound(t, router)

	// Malformed seeds.
	for _, seed := range []string{"", "not-hex", "abcd", hex.EncodeToString(make([]byte, 65))} {
		w := post(t, router, "/api/v1/rounds/draw", round.DrawRequest{Identity: authority, Seed: seed})
		if w.Code != http.StatusBadRequest {
			t.Errorf("seed %q: %d, want 400", seed, w.Code)
		}
	}

	// One draw per round.
	requestDraw(t, router, testSeed)
	w = post(t, router, "/api/v1/rounds/draw", round.DrawRequest{Identity: authority, Seed: testSeed})
	if w.Code != http.StatusConflict {
		t.Errorf("second draw: %d, want 409", w.Code)
	}
}

func TestSettle_BeforeDrawRejected(t *testing.T) {
	_, router := newTestEnv(t)

	deposit(t, router, identA, 300)
	closeRound(t, router)

	w := post(t, router, "/api/v1/rounds/settle", round.AuthorityRequest{Identity: authority})
	if w.Code != http.StatusConflict {
		t.Errorf("settle before draw: %d, want 409", w.Code)
	}
}

func TestRequestDraw_Deterministic(t *testing.T) {
	// Two identical pools drawn with the same seed pick the same ticket.
	var tickets [2]uint64
	for i := range tickets {
		_, router := newTestEnv(t)
		deposit(t, router, identA, 300)
		deposit(t, router, identB, 700)
		closeRound(t, router)
		tickets[i] = requestDraw(t, router, testSeed).WinningTicket
	}
	if tickets[0] != tickets[1] {
		t.Errorf("identical inputs drew tickets %d and %d", tickets[0], tickets[1])
	}
}

func TestRequestDraw_SoleParticipantExcluded(t *testing.T) {
	_, router := newTestEnv(t, identA)

	deposit(t, router, identA, 300)
	closeRound(t, router)

	w := post(t, router, "/api/v1/rounds/draw", round.DrawRequest{Identity: authority, Seed: testSeed})
	if w.Code != http.StatusConflict {
		t.Errorf("draw with only excluded stake: %d, want 409: %s", w.Code, w.Body.String())
	}
}

// --- Inspection tests ---

func TestGetCurrentRound(t *testing.T) {
	_, router := newTestEnv(t)

	deposit(t, router, identA, 300)
	deposit(t, router, identB, 700)

	w := get(t, router, "/api/v1/rounds/current")
	if w.Code != http.StatusOK {
		t.Fatalf("get current: %d %s", w.Code, w.Body.String())
	}

	var view round.RoundView
	json.Unmarshal(w.Body.Bytes(), &view)

	if view.Pool.RoundID != 1 || view.Pool.TotalStaked != 1000 {
		t.Errorf("pool = %+v", view.Pool)
	}
	if len(view.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(view.Participants))
	}
	if got := view.Participants[0].Odds.String(); got != "0.3" {
		t.Errorf("A odds = %s, want 0.3", got)
	}
	if got := view.Participants[1].Odds.String(); got != "0.7" {
		t.Errorf("B odds = %s, want 0.7", got)
	}
	if view.Draw != nil || view.Payout != nil {
		t.Error("open round should have no draw or payout attached")
	}
}

func TestGetRound_History(t *testing.T) {
	_, router := newTestEnv(t)

	deposit(t, router, identA, 300)
	deposit(t, router, identB, 700)
	closeRound(t, router)
	requestDraw(t, router, testSeed)
	post(t, router, "/api/v1/rounds/settle", round.AuthorityRequest{Identity: authority})

	w := get(t, router, "/api/v1/rounds/1")
	if w.Code != http.StatusOK {
		t.Fatalf("get round 1: %d %s", w.Code, w.Body.String())
	}

	var view round.RoundView
	json.Unmarshal(w.Body.Bytes(), &view)

	if view.Pool.State != model.StateSettled {
		t.Errorf("state = %s, want settled", view.Pool.State)
	}
	if view.Draw == nil || view.Payout == nil {
		t.Fatal("settled round should expose its draw and payout")
	}
	if view.Payout.AmountToWinner != 950 {
		t.Errorf("payout = %+v", view.Payout)
	}
}

func TestGetRound_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	w := get(t, router, "/api/v1/rounds/99")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown round: %d, want 404", w.Code)
	}
}

func TestListDraws(t *testing.T) {
	_, router := newTestEnv(t)

	w := get(t, router, "/api/v1/draws")
	if w.Code != http.StatusOK {
		t.Fatalf("list draws: %d", w.Code)
	}
	var draws []model.DrawResult
	json.Unmarshal(w.Body.Bytes(), &draws)
	if len(draws) != 0 {
		t.Errorf("fresh engine has %d draws, want 0", len(draws))
	}

	deposit(t, router, identA, 300)
	closeRound(t, router)
	requestDraw(t, router, testSeed)

	w = get(t, router, "/api/v1/draws")
	json.Unmarshal(w.Body.Bytes(), &draws)
	if len(draws) != 1 || draws[0].RoundID != 1 {
		t.Errorf("draws = %+v, want one for round 1", draws)
	}
}

func TestGetParticipants(t *testing.T) {
	_, router := newTestEnv(t)

	deposit(t, router, identA, 300)
	deposit(t, router, identB, 700)

	w := get(t, router, "/api/v1/rounds/1/participants")
	if w.Code != http.StatusOK {
		t.Fatalf("get participants: %d %s", w.Code, w.Body.String())
	}

	var views []round.ParticipantView
	json.Unmarshal(w.Body.Bytes(), &views)
	if len(views) != 2 {
		t.Fatalf("got %d participants, want 2", len(views))
	}
	if views[0].Identity != identA || views[0].Tickets != 3 {
		t.Errorf("first participant = %+v", views[0])
	}
	if views[1].Identity != identB || views[1].Tickets != 7 {
		t.Errorf("second participant = %+v", views[1])
	}
}
