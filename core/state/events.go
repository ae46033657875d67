package state

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"tokenescrow/core/types"
)

// EventRecord is a committed event together with its position in the log.
// Hash chains every record to its predecessor.
type EventRecord struct {
	Sequence  uint64       `json:"sequence"`
	Timestamp int64        `json:"timestamp"`
	Hash      string       `json:"hash"`
	Event     *types.Event `json:"event"`
}

type storedAttribute struct {
	Key   string
	Value string
}

type storedEvent struct {
	Type       string
	Timestamp  uint64
	Attributes []storedAttribute
	PrevHash   [32]byte
	Hash       [32]byte
}

type eventLogHead struct {
	Count uint64
	Hash  [32]byte
}

func (e *storedEvent) digest(seq uint64) ([32]byte, error) {
	var buf bytes.Buffer
	body := []interface{}{seq, e.Type, e.Timestamp, e.Attributes, e.PrevHash}
	if err := rlp.Encode(&buf, body); err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(buf.Bytes()), nil
}

func (m *Manager) eventHead() (*eventLogHead, error) {
	head := new(eventLogHead)
	if _, err := m.getRLP(eventCountKeyBytes, head); err != nil {
		return nil, err
	}
	return head, nil
}

// EventCount returns the number of events appended so far.
func (m *Manager) EventCount() (uint64, error) {
	head, err := m.eventHead()
	if err != nil {
		return 0, err
	}
	return head.Count, nil
}

// AppendEvent adds evt to the end of the event log and returns its sequence
// number. Sequence numbers start at 1.
func (m *Manager) AppendEvent(evt *types.Event, timestamp int64) (uint64, error) {
	if evt == nil {
		return 0, fmt.Errorf("event log: nil event")
	}
	ts, err := toUnix(timestamp)
	if err != nil {
		return 0, fmt.Errorf("event log: %w", err)
	}
	head, err := m.eventHead()
	if err != nil {
		return 0, err
	}
	seq := head.Count + 1
	stored := storedEvent{Type: evt.Type, Timestamp: ts, PrevHash: head.Hash}
	for _, key := range sortedKeys(evt.Attributes) {
		stored.Attributes = append(stored.Attributes, storedAttribute{Key: key, Value: evt.Attributes[key]})
	}
	if stored.Hash, err = stored.digest(seq); err != nil {
		return 0, fmt.Errorf("event log: %w", err)
	}
	if err := m.putRLP(eventEntryKey(seq), &stored); err != nil {
		return 0, err
	}
	if err := m.putRLP(eventCountKeyBytes, &eventLogHead{Count: seq, Hash: stored.Hash}); err != nil {
		return 0, err
	}
	return seq, nil
}

// Events returns up to limit events with a sequence greater than since. A
// non-positive limit returns every remaining event. Each returned record is
// checked against its stored hash and its predecessor link.
func (m *Manager) Events(since uint64, limit int) ([]EventRecord, error) {
	count, err := m.EventCount()
	if err != nil {
		return nil, err
	}
	var (
		out  []EventRecord
		prev *[32]byte
	)
	for seq := since + 1; seq <= count; seq++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		var stored storedEvent
		ok, err := m.getRLP(eventEntryKey(seq), &stored)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("event log: missing entry %d", seq)
		}
		digest, err := stored.digest(seq)
		if err != nil {
			return nil, fmt.Errorf("event log: %w", err)
		}
		if digest != stored.Hash || (prev != nil && *prev != stored.PrevHash) {
			return nil, fmt.Errorf("event log: entry %d fails hash verification", seq)
		}
		hash := stored.Hash
		prev = &hash
		attrs := make(map[string]string, len(stored.Attributes))
		for _, attr := range stored.Attributes {
			attrs[attr.Key] = attr.Value
		}
		out = append(out, EventRecord{
			Sequence:  seq,
			Timestamp: int64(stored.Timestamp),
			Hash:      hex.EncodeToString(stored.Hash[:]),
			Event:     &types.Event{Type: stored.Type, Attributes: attrs},
		})
	}
	return out, nil
}

// GenesisRecord describes the deployment written by genesis provisioning.
type GenesisRecord struct {
	Network      string
	TokenSymbol  string
	NativeSymbol string
}

// MarkGenesisApplied records that provisioning ran against this database.
func (m *Manager) MarkGenesisApplied(record GenesisRecord) error {
	return m.putRLP(genesisKeyBytes, &record)
}

// GenesisApplied returns the record written by MarkGenesisApplied.
func (m *Manager) GenesisApplied() (*GenesisRecord, bool, error) {
	record := new(GenesisRecord)
	ok, err := m.getRLP(genesisKeyBytes, record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

func sortedKeys(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
