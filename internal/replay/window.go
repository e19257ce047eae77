package replay

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/streamsync/internal/model"
	"github.com/roach88/streamsync/internal/store"
	"github.com/roach88/streamsync/internal/wire"
)

// readWindow computes the window of one stream starting at from and returns
// it with the contiguous deltas it covers. At most limit deltas are read.
func readWindow(ctx context.Context, tx *store.Tx, scope, threadID, streamID string, from int64, limit int) (Window, []store.Delta, error) {
	st, err := tx.GetStream(ctx, scope, streamID)
	switch {
	case err == nil:
		if st.ThreadID != threadID {
			return Window{}, nil, &model.SyncError{
				Code:     model.ErrCodeStreamNotBound,
				Message:  "stream is bound to another thread",
				ThreadID: threadID,
				StreamID: streamID,
			}
		}
	case !store.IsNotFound(err):
		return Window{}, nil, fmt.Errorf("load stream: %w", err)
	}

	effective := max(from, 0)
	status := WindowOK

	earliest, ok, err := tx.EarliestDeltaCursor(ctx, scope, streamID)
	if err != nil {
		return Window{}, nil, err
	}
	if ok && earliest > effective {
		effective = earliest
		status = WindowRebased
	}

	candidates, err := tx.ListDeltasFrom(ctx, scope, streamID, effective, limit)
	if err != nil {
		return Window{}, nil, err
	}
	prefix := contiguousPrefix(candidates, effective)

	end := effective
	if n := len(prefix); n > 0 {
		end = prefix[n-1].CursorEnd
	} else {
		stats, err := tx.GetStreamStats(ctx, scope, streamID)
		if err != nil && !store.IsNotFound(err) {
			return Window{}, nil, fmt.Errorf("load stream stats: %w", err)
		}
		if err == nil && stats.LatestCursor > effective {
			status = WindowStale
		}
	}

	return Window{
		StreamID:          streamID,
		Status:            status,
		ServerCursorStart: effective,
		ServerCursorEnd:   end,
	}, prefix, nil
}

// contiguousPrefix returns the leading deltas that chain from start with no
// gap. The first delta whose cursorStart differs from the running end stops
// the prefix.
func contiguousPrefix(deltas []store.Delta, start int64) []store.Delta {
	expected := start
	for i, d := range deltas {
		if d.CursorStart != expected {
			return deltas[:i]
		}
		expected = d.CursorEnd
	}
	return deltas
}

func toDeltas(in []store.Delta) []Delta {
	out := make([]Delta, 0, len(in))
	for _, d := range in {
		out = append(out, Delta{
			StreamID:    d.StreamID,
			CursorStart: d.CursorStart,
			CursorEnd:   d.CursorEnd,
			Kind:        d.Kind,
			PayloadJSON: string(d.Payload),
		})
	}
	return out
}

// snapshotsOf keeps the highest-cursor snapshot of every item the deltas
// mention, newest first.
func snapshotsOf(deltas []store.Delta) []Snapshot {
	latest := make(map[string]*wire.ItemSnapshot)
	for _, d := range deltas {
		snap := wire.ItemSnapshotOf(wire.Decode(d.Kind, d.Payload), d.Payload, d.CursorEnd)
		if snap == nil || snap.ItemID == "" {
			continue
		}
		if cur, ok := latest[snap.ItemID]; !ok || snap.CursorEnd >= cur.CursorEnd {
			latest[snap.ItemID] = snap
		}
	}

	snaps := make([]*wire.ItemSnapshot, 0, len(latest))
	for _, s := range latest {
		snaps = append(snaps, s)
	}
	slices.SortFunc(snaps, func(a, b *wire.ItemSnapshot) int {
		if c := cmp.Compare(b.CursorEnd, a.CursorEnd); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})

	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, Snapshot{
			ItemID:      s.ItemID,
			ItemType:    s.ItemType,
			Status:      s.Status,
			PayloadJSON: string(s.Payload),
		})
	}
	return out
}
