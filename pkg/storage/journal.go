package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/hyperfill/pkg/settlement"
)

// Resolution records how an operator closed out a stranded attempt.
type Resolution struct {
	AttemptID  string    `json:"attempt_id"`
	TradeRef   string    `json:"trade_ref"`
	Note       string    `json:"note"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// SaveAttempt writes the attempt and, when exactly one leg settled, indexes
// it as stranded. Both keys go in one synced batch.
func (s *PebbleStore) SaveAttempt(_ context.Context, r *settlement.Result) error {
	id := r.AttemptID.String()
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putJSON(b, attemptKey(r.TradeRef, id), r); err != nil {
		return err
	}
	if r.Stranded {
		if err := s.putJSON(b, strandedKey(id), r); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("save attempt %s: %w", id, err)
	}
	return nil
}

// LoadAttempts returns every attempt for a trade, oldest first.
func (s *PebbleStore) LoadAttempts(ref string) ([]*settlement.Result, error) {
	var out []*settlement.Result
	err := s.scan(attemptPrefix(ref), func(key, value []byte) error {
		var r settlement.Result
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		out = append(out, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ListStranded returns unresolved stranded attempts, oldest first.
func (s *PebbleStore) ListStranded() ([]*settlement.Result, error) {
	var out []*settlement.Result
	err := s.scan([]byte(prefixStranded), func(key, value []byte) error {
		var r settlement.Result
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		out = append(out, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ResolveStranded removes an attempt from the stranded index and records
// the operator's note. The attempt record itself is kept.
func (s *PebbleStore) ResolveStranded(attemptID, note string, at time.Time) (*Resolution, error) {
	var r settlement.Result
	if err := s.getJSON(strandedKey(attemptID), &r); err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("stranded attempt %s: %w", attemptID, ErrNotFound)
		}
		return nil, err
	}
	res := &Resolution{AttemptID: attemptID, TradeRef: r.TradeRef, Note: note, ResolvedAt: at}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putJSON(b, resolutionKey(attemptID), res); err != nil {
		return nil, err
	}
	if err := b.Delete(strandedKey(attemptID), nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", attemptID, err)
	}
	return res, nil
}

// LoadResolution returns the resolution of a previously stranded attempt.
func (s *PebbleStore) LoadResolution(attemptID string) (*Resolution, error) {
	var res Resolution
	if err := s.getJSON(resolutionKey(attemptID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

var _ settlement.Journal = (*PebbleStore)(nil)
