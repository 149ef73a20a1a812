package memory

import (
	"context"
	"strings"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/ports"
)

type stagedVote struct {
	vote    entities.Vote
	deleted bool
}

// stagedTx overlays uncommitted writes on the committed state. Reads consult
// the overlay first.
type stagedTx struct {
	store *Store

	polls      map[uint64]entities.Poll
	newPolls   []uint64
	votes      map[voteKey]stagedVote
	events     []entities.Event
	idem       map[string]ports.IdempotencyRecord
	lastPollID uint64
	basePollID uint64
	baseSeq    uint64
}

func (tx *stagedTx) GetPoll(_ context.Context, pollID uint64) (entities.Poll, error) {
	if poll, ok := tx.polls[pollID]; ok {
		return poll.Clone(), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.state.getPoll(pollID)
}

func (tx *stagedTx) ListPolls(_ context.Context) ([]entities.Poll, error) {
	tx.store.mu.RLock()
	items := tx.store.state.listPolls()
	tx.store.mu.RUnlock()

	for i, poll := range items {
		if staged, ok := tx.polls[poll.PollID]; ok {
			items[i] = staged.Clone()
		}
	}
	for _, pollID := range tx.newPolls {
		items = append(items, tx.polls[pollID].Clone())
	}
	return items, nil
}

func (tx *stagedTx) GetVote(_ context.Context, pollID uint64, voter string) (entities.Vote, bool, error) {
	key := voteKey{pollID: pollID, voter: entities.NormalizeIdentity(voter)}
	if staged, ok := tx.votes[key]; ok {
		if staged.deleted {
			return entities.Vote{}, false, nil
		}
		return staged.vote, true, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	vote, ok := tx.store.state.votes[key]
	return vote, ok, nil
}

func (tx *stagedTx) ListVotes(_ context.Context, pollID uint64) ([]entities.Vote, error) {
	tx.store.mu.RLock()
	committed := tx.store.state.listVotes(pollID)
	tx.store.mu.RUnlock()

	items := make([]entities.Vote, 0, len(committed))
	for _, vote := range committed {
		if _, ok := tx.votes[voteKey{pollID: pollID, voter: vote.Voter}]; ok {
			continue
		}
		items = append(items, vote)
	}
	for key, staged := range tx.votes {
		if key.pollID == pollID && !staged.deleted {
			items = append(items, staged.vote)
		}
	}
	sortVotes(items)
	return items, nil
}

func (tx *stagedTx) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]entities.Event, error) {
	tx.store.mu.RLock()
	items := tx.store.state.listEvents(afterSeq, limit)
	tx.store.mu.RUnlock()

	for _, event := range tx.events {
		if limit > 0 && len(items) >= limit {
			break
		}
		if event.Seq > afterSeq {
			items = append(items, cloneEvent(event))
		}
	}
	return items, nil
}

func (tx *stagedTx) GetIdempotency(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	if record, ok := tx.idem[key]; ok && record.ExpiresAt.After(now.UTC()) {
		return record, true, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	record, ok := tx.store.state.getIdempotency(key, now)
	return record, ok, nil
}

func (tx *stagedTx) NextPollID(_ context.Context) (uint64, error) {
	tx.lastPollID++
	return tx.lastPollID, nil
}

func (tx *stagedTx) SavePoll(_ context.Context, poll entities.Poll) error {
	if poll.PollID == 0 || poll.PollID > tx.lastPollID {
		return domainerrors.ErrPollNotFound
	}
	if _, staged := tx.polls[poll.PollID]; !staged && poll.PollID > tx.basePollID {
		tx.newPolls = append(tx.newPolls, poll.PollID)
	}
	tx.polls[poll.PollID] = poll.Clone()
	return nil
}

func (tx *stagedTx) SaveVote(_ context.Context, vote entities.Vote) error {
	vote.Voter = entities.NormalizeIdentity(vote.Voter)
	tx.votes[voteKey{pollID: vote.PollID, voter: vote.Voter}] = stagedVote{vote: vote}
	return nil
}

func (tx *stagedTx) DeleteVote(_ context.Context, pollID uint64, voter string) error {
	tx.votes[voteKey{pollID: pollID, voter: entities.NormalizeIdentity(voter)}] = stagedVote{deleted: true}
	return nil
}

func (tx *stagedTx) AppendEvent(_ context.Context, event entities.Event) (entities.Event, error) {
	event = cloneEvent(event)
	event.Seq = tx.baseSeq + uint64(len(tx.events)) + 1
	event.PublishedAt = nil
	tx.events = append(tx.events, event)
	return cloneEvent(event), nil
}

func (tx *stagedTx) PutIdempotency(_ context.Context, record ports.IdempotencyRecord) error {
	record.Key = strings.TrimSpace(record.Key)
	tx.idem[record.Key] = record
	return nil
}

// commit merges the overlay. The caller holds Store.mu for writing.
func (tx *stagedTx) commit(st *ledgerState) {
	for pollID, poll := range tx.polls {
		st.polls[pollID] = poll
	}
	st.order = append(st.order, tx.newPolls...)
	for key, staged := range tx.votes {
		if staged.deleted {
			delete(st.votes, key)
			continue
		}
		st.votes[key] = staged.vote
	}
	st.events = append(st.events, tx.events...)
	for key, record := range tx.idem {
		st.idempotency[key] = record
	}
	st.lastPollID = tx.lastPollID
}
