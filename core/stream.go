package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"tokenescrow/core/events"
	"tokenescrow/core/state"
	"tokenescrow/observability"
)

const eventHistoryLimit = 2048

type subscriber struct {
	ch chan state.EventRecord
	// after is the last sequence delivered through the backlog.
	after uint64
}

func cloneEventRecord(record state.EventRecord) state.EventRecord {
	cloned := record
	cloned.Event = record.Event.Clone()
	return cloned
}

func (n *Node) publish(records []state.EventRecord) {
	if n == nil || len(records) == 0 {
		return
	}
	metrics := observability.Events()
	for _, record := range records {
		if record.Event == nil {
			continue
		}
		metrics.RecordEvent(record.Event.Type)
		switch record.Event.Type {
		case events.TypeTokenTransfer:
			metrics.RecordTransfer(record.Event.Attributes["token"])
		case events.TypeNativeTransfer:
			metrics.RecordTransfer(record.Event.Attributes["asset"])
		}
	}

	n.streamMu.Lock()
	for _, record := range records {
		n.streamHistory = append(n.streamHistory, cloneEventRecord(record))
	}
	if len(n.streamHistory) > eventHistoryLimit {
		excess := len(n.streamHistory) - eventHistoryLimit
		trimmed := make([]state.EventRecord, eventHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	subscribers := make([]*subscriber, 0, len(n.streamSubs))
	for _, sub := range n.streamSubs {
		subscribers = append(subscribers, sub)
	}
	for _, sub := range subscribers {
		for _, record := range records {
			if record.Sequence <= sub.after {
				continue
			}
			select {
			case sub.ch <- cloneEventRecord(record):
			default:
			}
		}
	}
	n.streamMu.Unlock()
}

// ParseCursor converts a stream cursor into an event sequence. An empty cursor
// starts from the beginning of the log.
func ParseCursor(cursor string) (uint64, error) {
	trimmed := strings.TrimSpace(cursor)
	if trimmed == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return since, nil
}

// EventsSubscribe registers a subscriber for committed escrow events after
// the supplied cursor. The backlog holds events already committed; the channel
// carries later ones. Slow subscribers miss updates rather than block commits.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan state.EventRecord, func(), []state.EventRecord, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	since, err := ParseCursor(cursor)
	if err != nil {
		return nil, nil, nil, err
	}
	updates := make(chan state.EventRecord, 32)

	n.streamMu.Lock()
	backlog, err := n.backlogLocked(since)
	if err != nil {
		n.streamMu.Unlock()
		return nil, nil, nil, err
	}
	after := since
	if len(backlog) > 0 {
		after = backlog[len(backlog)-1].Sequence
	}
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]*subscriber)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = &subscriber{ch: updates, after: after}
	n.streamMu.Unlock()
	observability.Events().SubscriberAdded(1)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			sub, ok := n.streamSubs[id]
			if ok {
				delete(n.streamSubs, id)
				close(sub.ch)
			}
			n.streamMu.Unlock()
			observability.Events().SubscriberAdded(-1)
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

// backlogLocked serves from the in-memory history when it covers since and
// falls back to the persisted log otherwise.
func (n *Node) backlogLocked(since uint64) ([]state.EventRecord, error) {
	if len(n.streamHistory) > 0 && n.streamHistory[0].Sequence <= since+1 {
		backlog := make([]state.EventRecord, 0, len(n.streamHistory))
		for _, entry := range n.streamHistory {
			if entry.Sequence > since {
				backlog = append(backlog, cloneEventRecord(entry))
			}
		}
		return backlog, nil
	}
	records, err := n.EscrowEvents(since, 0)
	if err != nil {
		return nil, err
	}
	return records, nil
}
