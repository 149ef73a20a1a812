package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/ports"

	"github.com/google/uuid"
)

type voteKey struct {
	pollID uint64
	voter  string
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// ledgerState is the committed ledger. Its methods never lock; callers hold
// Store.mu.
type ledgerState struct {
	polls       map[uint64]entities.Poll
	order       []uint64
	votes       map[voteKey]entities.Vote
	events      []entities.Event
	idempotency map[string]ports.IdempotencyRecord
	lastPollID  uint64
}

// Store is the deterministic in-process Ledger. Apply calls are serialized by
// writeMu; readers see committed state only.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	state       ledgerState
	eventDedup  map[string]dedupRecord
	projections map[uint64]ports.TallyProjection
}

func NewStore() *Store {
	return &Store{
		state: ledgerState{
			polls:       make(map[uint64]entities.Poll),
			votes:       make(map[voteKey]entities.Vote),
			idempotency: make(map[string]ports.IdempotencyRecord),
		},
		eventDedup:  make(map[string]dedupRecord),
		projections: make(map[uint64]ports.TallyProjection),
	}
}

func (s *Store) Apply(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	tx := &stagedTx{
		store:      s,
		polls:      make(map[uint64]entities.Poll),
		votes:      make(map[voteKey]stagedVote),
		idem:       make(map[string]ports.IdempotencyRecord),
		lastPollID: s.state.lastPollID,
		basePollID: s.state.lastPollID,
		baseSeq:    uint64(len(s.state.events)),
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx.commit(&s.state)
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, view ports.LedgerView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, committedView{state: &s.state})
}

// committedView reads Store.state under a lock already held by View.
type committedView struct {
	state *ledgerState
}

func (v committedView) GetPoll(_ context.Context, pollID uint64) (entities.Poll, error) {
	return v.state.getPoll(pollID)
}

func (v committedView) ListPolls(_ context.Context) ([]entities.Poll, error) {
	return v.state.listPolls(), nil
}

func (v committedView) GetVote(_ context.Context, pollID uint64, voter string) (entities.Vote, bool, error) {
	vote, ok := v.state.votes[voteKey{pollID: pollID, voter: entities.NormalizeIdentity(voter)}]
	return vote, ok, nil
}

func (v committedView) ListVotes(_ context.Context, pollID uint64) ([]entities.Vote, error) {
	return v.state.listVotes(pollID), nil
}

func (v committedView) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]entities.Event, error) {
	return v.state.listEvents(afterSeq, limit), nil
}

func (v committedView) GetIdempotency(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	record, ok := v.state.getIdempotency(key, now)
	return record, ok, nil
}

func (st *ledgerState) getPoll(pollID uint64) (entities.Poll, error) {
	poll, ok := st.polls[pollID]
	if !ok {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return poll.Clone(), nil
}

func (st *ledgerState) listPolls() []entities.Poll {
	items := make([]entities.Poll, 0, len(st.order))
	for _, pollID := range st.order {
		items = append(items, st.polls[pollID].Clone())
	}
	return items
}

func (st *ledgerState) listVotes(pollID uint64) []entities.Vote {
	items := make([]entities.Vote, 0)
	for key, vote := range st.votes {
		if key.pollID == pollID {
			items = append(items, vote)
		}
	}
	sortVotes(items)
	return items
}

func (st *ledgerState) listEvents(afterSeq uint64, limit int) []entities.Event {
	if afterSeq >= uint64(len(st.events)) {
		return []entities.Event{}
	}
	tail := st.events[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	items := make([]entities.Event, 0, len(tail))
	for _, event := range tail {
		items = append(items, cloneEvent(event))
	}
	return items
}

func (st *ledgerState) getIdempotency(key string, now time.Time) (ports.IdempotencyRecord, bool) {
	record, ok := st.idempotency[strings.TrimSpace(key)]
	if !ok || !record.ExpiresAt.After(now.UTC()) {
		return ports.IdempotencyRecord{}, false
	}
	return record, true
}

func (s *Store) ListPendingEvents(_ context.Context, limit int) ([]entities.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]entities.Event, 0)
	for _, event := range s.state.events {
		if event.PublishedAt != nil {
			continue
		}
		items = append(items, cloneEvent(event))
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *Store) MarkEventPublished(_ context.Context, seq uint64, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq == 0 || seq > uint64(len(s.state.events)) {
		return domainerrors.ErrEventNotFound
	}
	at := publishedAt.UTC()
	s.state.events[seq-1].PublishedAt = &at
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	now time.Time,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && now.After(existing.expiresAt) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrIdempotencyConflict
			}
			return true, nil
		}
	}
	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) GetProjection(_ context.Context, pollID uint64) (ports.TallyProjection, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	projection, ok := s.projections[pollID]
	if !ok {
		return ports.TallyProjection{}, false, nil
	}
	return cloneProjection(projection), true, nil
}

func (s *Store) UpdateProjection(_ context.Context, pollID uint64, fn func(*ports.TallyProjection) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	projection, ok := s.projections[pollID]
	if ok {
		projection = cloneProjection(projection)
	} else {
		projection = ports.TallyProjection{PollID: pollID}
	}
	if err := fn(&projection); err != nil {
		return err
	}
	projection.PollID = pollID
	s.projections[pollID] = projection
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func sortVotes(items []entities.Vote) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CastAt.Equal(items[j].CastAt) {
			return items[i].Voter < items[j].Voter
		}
		return items[i].CastAt.Before(items[j].CastAt)
	})
}

func cloneEvent(event entities.Event) entities.Event {
	out := event
	out.Payload = append([]byte(nil), event.Payload...)
	if event.PublishedAt != nil {
		at := *event.PublishedAt
		out.PublishedAt = &at
	}
	return out
}

func cloneProjection(projection ports.TallyProjection) ports.TallyProjection {
	out := projection
	out.Choices = append([]string(nil), projection.Choices...)
	out.Tallies = append([]int64(nil), projection.Tallies...)
	return out
}
