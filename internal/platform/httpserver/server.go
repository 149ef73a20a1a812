package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	pollregistry "agora/contexts/governance/poll-registry"
	polldomainerrors "agora/contexts/governance/poll-registry/domain/errors"
	pollhttp "agora/contexts/governance/poll-registry/transport/http"
	_ "agora/internal/platform/httpserver/docs"
	"agora/internal/platform/metrics"

	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	addr       string
	polls      pollregistry.Module
	metrics    *metrics.Metrics
	httpServer *http.Server
}

func New(
	polls pollregistry.Module,
	m *metrics.Metrics,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    addr,
		polls:   polls,
		metrics: m,
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.route("POST /v1/polls", s.handleCreatePoll)
	s.route("GET /v1/polls", s.handleListPolls)
	s.route("GET /v1/polls/{poll_id}", s.handleGetPoll)
	s.route("GET /v1/polls/{poll_id}/tally", s.handleGetTally)
	s.route("POST /v1/polls/{poll_id}/choices", s.handleAddChoice)
	s.route("POST /v1/polls/{poll_id}/votes", s.handleCastVote)
	s.route("PUT /v1/polls/{poll_id}/votes", s.handleChangeVote)
	s.route("DELETE /v1/polls/{poll_id}/votes", s.handleCancelVote)
	s.route("GET /v1/polls/{poll_id}/votes", s.handleListVotes)
	s.route("GET /v1/polls/{poll_id}/voters/{voter}", s.handleVotedChoice)
	s.route("GET /v1/events", s.handleListEvents)
}

func (s *Server) route(pattern string, handler http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.Instrument(pattern, handler))
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req pollhttp.CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.polls.Handler.CreatePollHandler(r.Context(), userID, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.ListPollsHandler(r.Context())
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.GetPollHandler(r.Context(), pollID)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTally(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.TallyProjectionHandler(r.Context(), pollID)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddChoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	var req pollhttp.AddChoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.polls.Handler.AddChoiceHandler(r.Context(), userID, pollID, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	var req pollhttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.polls.Handler.CastVoteHandler(r.Context(), userID, pollID, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChangeVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	var req pollhttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.polls.Handler.ChangeVoteHandler(r.Context(), userID, pollID, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.CancelVoteHandler(r.Context(), userID, pollID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.ListVotesHandler(r.Context(), pollID)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVotedChoice(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.VotedChoiceHandler(r.Context(), pollID, r.PathValue("voter"))
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		afterSeq uint64
		limit    int
		err      error
	)
	if raw := query.Get("after_seq"); raw != "" {
		afterSeq, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writePollError(w, http.StatusBadRequest, "invalid_after_seq", "after_seq must be a non-negative integer")
			return
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writePollError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
	}
	resp, err := s.polls.Handler.ListEventsHandler(r.Context(), afterSeq, limit)
	if err != nil {
		s.writePollDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writePollDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, polldomainerrors.ErrTransferFailed):
		writePollError(w, http.StatusUnprocessableEntity, "transfer_failed", err.Error())
	case errors.Is(err, polldomainerrors.ErrPollNotFound):
		writePollError(w, http.StatusNotFound, "poll_not_found", err.Error())
	case errors.Is(err, polldomainerrors.ErrInvalidWindow):
		writePollError(w, http.StatusBadRequest, "invalid_window", err.Error())
	case errors.Is(err, polldomainerrors.ErrInvalidPollInput):
		writePollError(w, http.StatusBadRequest, "invalid_poll_input", err.Error())
	case errors.Is(err, polldomainerrors.ErrUnknownPollKind):
		writePollError(w, http.StatusBadRequest, "unknown_poll_kind", err.Error())
	case errors.Is(err, polldomainerrors.ErrInvalidChoiceSet):
		writePollError(w, http.StatusBadRequest, "invalid_choice_set", err.Error())
	case errors.Is(err, polldomainerrors.ErrInvalidWeightConfig):
		writePollError(w, http.StatusBadRequest, "invalid_weight_config", err.Error())
	case errors.Is(err, polldomainerrors.ErrUnknownChoice):
		writePollError(w, http.StatusUnprocessableEntity, "unknown_choice", err.Error())
	case errors.Is(err, polldomainerrors.ErrZeroWeight):
		writePollError(w, http.StatusUnprocessableEntity, "zero_weight", err.Error())
	case errors.Is(err, polldomainerrors.ErrWeightOutOfRange):
		writePollError(w, http.StatusUnprocessableEntity, "weight_out_of_range", err.Error())
	case errors.Is(err, polldomainerrors.ErrNotPollOwner):
		writePollError(w, http.StatusForbidden, "not_poll_owner", err.Error())
	case errors.Is(err, polldomainerrors.ErrVotingClosed):
		writePollError(w, http.StatusConflict, "voting_closed", err.Error())
	case errors.Is(err, polldomainerrors.ErrAlreadyVoted):
		writePollError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, polldomainerrors.ErrNoActiveVote):
		writePollError(w, http.StatusConflict, "no_active_vote", err.Error())
	case errors.Is(err, polldomainerrors.ErrChoiceLimitExceeded):
		writePollError(w, http.StatusConflict, "choice_limit_exceeded", err.Error())
	case errors.Is(err, polldomainerrors.ErrChoicesFixed):
		writePollError(w, http.StatusConflict, "choices_fixed", err.Error())
	case errors.Is(err, polldomainerrors.ErrEnrollmentClosed):
		writePollError(w, http.StatusConflict, "enrollment_closed", err.Error())
	case errors.Is(err, polldomainerrors.ErrDuplicateChoice):
		writePollError(w, http.StatusConflict, "duplicate_choice", err.Error())
	case errors.Is(err, polldomainerrors.ErrIdempotencyConflict):
		writePollError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	default:
		s.logger.Error("poll request failed",
			"event", "http_poll_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writePollError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return userID, true
}

func parsePollID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	pollID, err := strconv.ParseUint(r.PathValue("poll_id"), 10, 64)
	if err != nil || pollID == 0 {
		writePollError(w, http.StatusBadRequest, "invalid_poll_id", "poll_id must be a positive integer")
		return 0, false
	}
	return pollID, true
}

func writePollError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, pollhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
