package filerepo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schwartzmorn/kodiproxy-go/internal/apperror"
	"github.com/schwartzmorn/kodiproxy-go/internal/historylog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(context.Background(), t.TempDir(), logger)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, s.Close()) })

	return s
}

func ptr(v uint32) *uint32 { return &v }

func TestCreateThenRead(t *testing.T) {
	// Scenario 1 from spec §8.
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rev, err := s.Save(ctx, "keepass", "pdb.kdbx", []byte("content of current file"), nil, "0.0.0.0", now)
	require.NoError(t, err)
	require.Equal(t, uint32(0), rev.Version)

	got, err := s.Get(ctx, "keepass", "pdb.kdbx", true)
	require.NoError(t, err)
	require.Equal(t, uint32(0), got.Version)
	require.Equal(t, "content of current file", string(got.Content))
}

func TestUpdateWithPrecondition(t *testing.T) {
	// Scenario 2.
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Save(ctx, "keepass", "pdb.kdbx", []byte("content of current file"), nil, "0.0.0.0", now)
	require.NoError(t, err)

	_, err = s.Save(ctx, "keepass", "pdb.kdbx", []byte("v1"), nil, "0.0.0.0", now)
	require.Error(t, err)
	require.True(t, isVersionMismatch(err))

	rev, err := s.Save(ctx, "keepass", "pdb.kdbx", []byte("v1"), ptr(0), "0.0.0.0", now)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rev.Version)
}

func TestDelete(t *testing.T) {
	// Scenario 3.
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Save(ctx, "keepass", "pdb.kdbx", []byte("x"), nil, "0.0.0.0", now)
	require.NoError(t, err)

	_, err = s.Delete(ctx, "keepass", "pdb.kdbx", 5, "0.0.0.0", now)
	require.Error(t, err)
	require.True(t, isVersionMismatch(err))

	rev, err := s.Delete(ctx, "keepass", "pdb.kdbx", 0, "0.0.0.0", now)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rev.Version)

	_, err = s.Get(ctx, "keepass", "pdb.kdbx", false)
	require.Error(t, err)
	require.True(t, isNotFound(err))
}

func TestMoveTo(t *testing.T) {
	// Scenario 4.
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Save(ctx, "keepass", "pdb.kdbx.tmp", []byte("deadbeef-content"), nil, "0.0.0.0", now)
	require.NoError(t, err)

	_, err = s.MoveTo(ctx, "keepass", "pdb.kdbx.tmp", 0, "keepass", "pdb.kdbx", "0.0.0.0", now)
	require.NoError(t, err)

	hist, err := s.GetHistory(ctx, "keepass", "pdb.kdbx.tmp")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, historylog.Creation, hist[0].Kind)
	require.Equal(t, uint32(0), hist[0].Version)
	require.Equal(t, historylog.MoveTo, hist[1].Kind)
	require.Equal(t, uint32(1), hist[1].Version)
	require.Equal(t, "keepass/pdb.kdbx", hist[1].PathTo)

	destHist, err := s.GetHistory(ctx, "keepass", "pdb.kdbx")
	require.NoError(t, err)
	require.Len(t, destHist, 1)
	require.Equal(t, historylog.MoveFrom, destHist[0].Kind)
	require.Equal(t, "keepass/pdb.kdbx.tmp", destHist[0].PathFrom)
}

func TestMoveRejectsSameIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Save(ctx, "a", "b", []byte("x"), nil, "0.0.0.0", now)
	require.NoError(t, err)

	_, err = s.MoveTo(ctx, "a", "b", 0, "a", "b", "0.0.0.0", now)
	require.Error(t, err)

	e, ok := apperror.As(err)
	require.True(t, ok)
	require.Equal(t, apperror.KindInvalidRequest, e.Kind)
}

func TestFullLifecycleHistory(t *testing.T) {
	// Scenario 5: create v0 -> update v1 -> delete v2 -> failed delete
	// (NotFound, the identity is no longer live) -> create v3 -> move_to
	// target v4 -> create again v5.
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Save(ctx, "p", "n", []byte("c0"), nil, "0.0.0.0", now) // v0
	require.NoError(t, err)

	_, err = s.Save(ctx, "p", "n", []byte("c1"), ptr(0), "0.0.0.0", now) // v1
	require.NoError(t, err)

	_, err = s.Delete(ctx, "p", "n", 1, "0.0.0.0", now) // v2
	require.NoError(t, err)

	_, err = s.Delete(ctx, "p", "n", 1, "0.0.0.0", now) // fails, not live anymore
	require.Error(t, err)
	require.True(t, isNotFound(err))

	_, err = s.Save(ctx, "p", "n", []byte("c3"), nil, "0.0.0.0", now) // v3
	require.NoError(t, err)

	_, err = s.MoveTo(ctx, "p", "n", 3, "other", "dest", "0.0.0.0", now) // v4 for p/n
	require.NoError(t, err)

	_, err = s.Save(ctx, "p", "n", []byte("c5"), nil, "0.0.0.0", now) // v5
	require.NoError(t, err)

	hist, err := s.GetHistory(ctx, "p", "n")
	require.NoError(t, err)
	require.Len(t, hist, 6)

	wantKinds := []historylog.Kind{
		historylog.Creation, historylog.Update, historylog.Deletion,
		historylog.Creation, historylog.MoveTo, historylog.Creation,
	}
	wantVersions := []uint32{0, 1, 2, 3, 4, 5}

	for i, e := range hist {
		require.Equal(t, wantKinds[i], e.Kind, "entry %d kind", i)
		require.Equal(t, wantVersions[i], e.Version, "entry %d version", i)
	}
}

func TestGetHistoryNotFoundWhenEmpty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetHistory(context.Background(), "nope", "nope")
	require.Error(t, err)
	require.True(t, isNotFound(err))
}

func isNotFound(err error) bool {
	e, ok := apperror.As(err)
	return ok && e.Kind == apperror.KindNotFound
}

func isVersionMismatch(err error) bool {
	e, ok := apperror.As(err)
	return ok && e.Kind == apperror.KindVersionMismatch
}
