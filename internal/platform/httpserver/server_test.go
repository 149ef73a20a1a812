package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pollregistry "agora/contexts/governance/poll-registry"
	"agora/contexts/governance/poll-registry/domain/services"
	pollhttp "agora/contexts/governance/poll-registry/transport/http"
	"agora/internal/platform/metrics"
)

func newTestServer(t *testing.T) (*Server, pollregistry.Module) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	module := pollregistry.NewInMemoryModule(services.DefaultPollRules(), logger)
	return New(module, metrics.New(), logger, ":0"), module
}

func do(t *testing.T, s *Server, method string, path string, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func openPollRequest() pollhttp.CreatePollRequest {
	now := time.Now().UTC()
	return pollhttp.CreatePollRequest{
		Kind:      "dynamic",
		Topic:     "Favourite pet",
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
		Choices:   []string{"Cats", "Dogs"},
	}
}

func TestPollLifecycleOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/polls", "owner-1", openPollRequest())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create poll: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	poll := decode[pollhttp.PollResponse](t, rec)
	if poll.PollID != 1 || len(poll.Choices) != 2 {
		t.Fatalf("unexpected poll: %+v", poll)
	}

	rec = do(t, s, http.MethodPost, "/v1/polls/1/choices", "guest", pollhttp.AddChoiceRequest{Name: "Birds"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add choice: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if added := decode[pollhttp.AddChoiceResponse](t, rec); added.ChoiceID != 3 || added.Name != "Birds" {
		t.Fatalf("unexpected choice: %+v", added)
	}

	rec = do(t, s, http.MethodPost, "/v1/polls/1/votes", "Voter-A", pollhttp.CastVoteRequest{ChoiceID: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("cast vote: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	vote := decode[pollhttp.VoteResponse](t, rec)
	if vote.Voter != "voter-a" || len(vote.Tallies) != 3 || vote.Tallies[0] != 1 {
		t.Fatalf("unexpected vote: %+v", vote)
	}

	rec = do(t, s, http.MethodPost, "/v1/polls/1/votes", "voter-a", pollhttp.CastVoteRequest{ChoiceID: 1})
	if rec.Code != http.StatusConflict || decode[pollhttp.ErrorResponse](t, rec).Code != "already_voted" {
		t.Fatalf("expected already_voted conflict, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPut, "/v1/polls/1/votes", "voter-a", pollhttp.CastVoteRequest{ChoiceID: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("change vote: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/v1/polls/1/voters/VOTER-A", "", nil)
	if voted := decode[pollhttp.VotedChoiceResponse](t, rec); voted.ChoiceID != 2 {
		t.Fatalf("expected voted choice 2, got %+v", voted)
	}

	rec = do(t, s, http.MethodDelete, "/v1/polls/1/votes", "voter-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel vote: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodDelete, "/v1/polls/1/votes", "voter-a", nil)
	if rec.Code != http.StatusConflict || decode[pollhttp.ErrorResponse](t, rec).Code != "no_active_vote" {
		t.Fatalf("expected no_active_vote conflict, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/v1/polls/1", "", nil)
	got := decode[pollhttp.PollResponse](t, rec)
	for _, choice := range got.Choices {
		if choice.Tally != 0 {
			t.Fatalf("expected zero tallies after cancel, got %+v", got.Choices)
		}
	}

	rec = do(t, s, http.MethodGet, "/v1/polls/1/votes", "", nil)
	if votes := decode[pollhttp.ListVotesResponse](t, rec); len(votes.Items) != 0 {
		t.Fatalf("expected no live votes, got %+v", votes.Items)
	}

	rec = do(t, s, http.MethodGet, "/v1/events?after_seq=0&limit=100", "", nil)
	events := decode[pollhttp.ListEventsResponse](t, rec)
	wantTypes := []string{"poll.created", "choice.added", "vote.cast", "vote.cancelled", "vote.cast", "vote.cancelled"}
	if len(events.Items) != len(wantTypes) {
		t.Fatalf("expected %d events, got %+v", len(wantTypes), events.Items)
	}
	for i, want := range wantTypes {
		if events.Items[i].EventType != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events.Items[i].EventType)
		}
	}
	if events.NextSeq != uint64(len(wantTypes)) {
		t.Fatalf("expected next_seq %d, got %d", len(wantTypes), events.NextSeq)
	}
}

func TestCreatePollReplayAndValidation(t *testing.T) {
	s, _ := newTestServer(t)
	body := openPollRequest()

	req := func() *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		r := httptest.NewRequest(http.MethodPost, "/v1/polls", bytes.NewReader(raw))
		r.Header.Set("X-User-Id", "owner-1")
		r.Header.Set("Idempotency-Key", "create-1")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, r)
		return rec
	}
	if rec := req(); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec := req()
	if rec.Code != http.StatusOK || !decode[pollhttp.PollResponse](t, rec).Replayed {
		t.Fatalf("expected replayed 200, got %d: %s", rec.Code, rec.Body.String())
	}

	simple := openPollRequest()
	simple.Kind = "simple"
	simple.Choices = []string{"Yes"}
	rec = do(t, s, http.MethodPost, "/v1/polls", "owner-1", simple)
	if rec.Code != http.StatusBadRequest || decode[pollhttp.ErrorResponse](t, rec).Code != "invalid_choice_set" {
		t.Fatalf("expected invalid_choice_set, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/v1/polls", "", nil)
	index := decode[pollhttp.PollIndexResponse](t, rec)
	if len(index.IDs) != 1 || index.Owners[0] != "owner-1" || index.Kinds[0] != "dynamic" {
		t.Fatalf("unexpected poll index: %+v", index)
	}
}

func TestRequestValidationErrors(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/polls", "", openPollRequest())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/polls", strings.NewReader("{"))
	r.Header.Set("X-User-Id", "owner-1")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest || decode[pollhttp.ErrorResponse](t, rec).Code != "invalid_json" {
		t.Fatalf("expected invalid_json, got %d: %s", rec.Code, rec.Body.String())
	}

	for _, path := range []string{"/v1/polls/0", "/v1/polls/abc"} {
		rec = do(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}

	rec = do(t, s, http.MethodGet, "/v1/polls/9", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown poll, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/v1/polls/9/tally", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing projection, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/v1/events?after_seq=-1", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative after_seq, got %d", rec.Code)
	}
}

func TestDepositVoteWithoutAllowanceIsUnprocessable(t *testing.T) {
	s, module := newTestServer(t)
	req := openPollRequest()
	req.Kind = "weighted"
	req.WeightAsset = "0xtoken"
	if rec := do(t, s, http.MethodPost, "/v1/polls", "owner-1", req); rec.Code != http.StatusCreated {
		t.Fatalf("create weighted poll: %d %s", rec.Code, rec.Body.String())
	}
	module.Assets.Mint("0xtoken", "alice", 100)

	rec := do(t, s, http.MethodPost, "/v1/polls/1/votes", "alice", pollhttp.CastVoteRequest{ChoiceID: 1, Deposit: 10})
	if rec.Code != http.StatusUnprocessableEntity || decode[pollhttp.ErrorResponse](t, rec).Code != "transfer_failed" {
		t.Fatalf("expected transfer_failed, got %d: %s", rec.Code, rec.Body.String())
	}

	module.Assets.Approve("0xtoken", "alice", 10)
	rec = do(t, s, http.MethodPost, "/v1/polls/1/votes", "alice", pollhttp.CastVoteRequest{ChoiceID: 1, Deposit: 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected deposit vote to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	if vote := decode[pollhttp.VoteResponse](t, rec); vote.Weight != 10 || vote.Deposit != 10 {
		t.Fatalf("unexpected vote: %+v", vote)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}
	do(t, s, http.MethodGet, "/v1/polls", "", nil)

	rec := do(t, s, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `agora_http_requests_total{code="200",route="GET /v1/polls"} 1`) {
		t.Fatalf("expected request counter in metrics output")
	}
}
