package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperfill/pkg/settlement"
)

func openStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "settlement"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func attempt(ref string, start time.Time, srcOK, dstOK bool) *settlement.Result {
	status := func(ok bool) settlement.LegStatus {
		if ok {
			return settlement.StatusSuccess
		}
		return settlement.StatusUnconfirmed
	}
	return &settlement.Result{
		AttemptID:   uuid.New(),
		TradeRef:    ref,
		Settled:     srcOK && dstOK,
		Stranded:    srcOK != dstOK,
		StartedAt:   start,
		FinishedAt:  start.Add(time.Second),
		Source:      settlement.LegResult{Leg: settlement.LegSource, Status: status(srcOK), Success: srcOK},
		Destination: settlement.LegResult{Leg: settlement.LegDestination, Status: status(dstOK), Success: dstOK},
	}
}

func TestJournalAttempts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := attempt("HBAR_USDC-1", t0.Add(time.Minute), true, false)
	a2 := attempt("HBAR_USDC-1", t0, false, false)
	other := attempt("HBAR_USDC-10", t0, true, true)
	for _, a := range []*settlement.Result{a1, a2, other} {
		require.NoError(t, s.SaveAttempt(ctx, a))
	}

	got, err := s.LoadAttempts("HBAR_USDC-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, a2.AttemptID, got[0].AttemptID)
	require.Equal(t, a1.AttemptID, got[1].AttemptID)
	require.Equal(t, settlement.StatusUnconfirmed, got[1].Destination.Status)

	none, err := s.LoadAttempts("HBAR_USDC-2")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestJournalStrandedLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	stranded := attempt("HBAR_USDC-3", t0, true, false)
	require.NoError(t, s.SaveAttempt(ctx, stranded))
	require.NoError(t, s.SaveAttempt(ctx, attempt("HBAR_USDC-4", t0, true, true)))

	list, err := s.ListStranded()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "HBAR_USDC-3", list[0].TradeRef)

	id := stranded.AttemptID.String()
	res, err := s.ResolveStranded(id, "refunded party2 manually", t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "HBAR_USDC-3", res.TradeRef)

	list, err = s.ListStranded()
	require.NoError(t, err)
	require.Empty(t, list)

	got, err := s.LoadResolution(id)
	require.NoError(t, err)
	require.Equal(t, "refunded party2 manually", got.Note)

	_, err = s.ResolveStranded(id, "again", t0)
	require.True(t, errors.Is(err, ErrNotFound))

	// The attempt record survives resolution.
	attempts, err := s.LoadAttempts("HBAR_USDC-3")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
}

func TestJournalReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "settlement")
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	a := attempt("BTC_USDC-1", time.Unix(100, 0).UTC(), false, true)
	require.NoError(t, s.SaveAttempt(context.Background(), a))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	list, err := s.ListStranded()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, a.AttemptID, list[0].AttemptID)
}
