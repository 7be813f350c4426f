package deadletter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/pool"
)

func TestAppendAndRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dead.jsonl")
	l := New(path)
	require.Equal(t, path, l.Path())

	e := pool.FillAuctionEvent{
		EventMeta:   pool.EventMeta{Ledger: 42},
		AuctionType: pool.Liquidation,
		User:        "u1",
		FillPercent: 100,
	}
	rec, err := l.Append("reactor", e, errors.New("store down"))
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	_, err = l.Append("reactor", pool.DeleteLiquidationAuctionEvent{User: "u2"}, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Reopens on append after close.
	_, err = l.Append("reactor", e, nil)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err := l.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "fill-auction", recs[0].Kind)
	require.Equal(t, uint32(42), recs[0].Ledger)
	require.Equal(t, "store down", recs[0].Error)
	require.Equal(t, "u2", recs[1].Event.User)

	back, err := recs[0].Event.Event()
	require.NoError(t, err)
	require.Equal(t, e, back)
	require.NoError(t, l.Close())
}

func TestNilLog(t *testing.T) {
	t.Parallel()

	l := New("  ")
	require.Nil(t, l)
	_, err := l.Append("reactor", pool.DeleteLiquidationAuctionEvent{User: "u"}, nil)
	require.NoError(t, err)
	recs, err := l.Records()
	require.NoError(t, err)
	require.Empty(t, recs)
	require.NoError(t, l.Close())
}
