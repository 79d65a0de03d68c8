package logcompare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schwartzmorn/kodiproxy-go/internal/historylog"
)

func entry(version uint32, t time.Time, kind historylog.Kind, hash string) historylog.Entry {
	return historylog.Entry{Version: version, Timestamp: t, Address: "0.0.0.0", Kind: kind, Hash: hash}
}

func TestCompareBothEmpty(t *testing.T) {
	require.Equal(t, Equal, Compare(nil, nil))
}

func TestCompareOneSideEmpty(t *testing.T) {
	t0 := time.Now().UTC()
	local := historylog.Log{entry(0, t0, historylog.Creation, "H")}

	require.Equal(t, LocalIsMoreRecent, Compare(local, nil))
	require.Equal(t, DistantIsMoreRecent, Compare(nil, local))
}

func TestCompareSameHashNewerWins(t *testing.T) {
	t0 := time.Now().UTC()
	local := historylog.Log{entry(0, t0, historylog.Creation, "H")}
	distant := historylog.Log{entry(0, t0.Add(time.Minute), historylog.Creation, "H")}

	require.Equal(t, DistantIsMoreRecent, Compare(local, distant))
	require.Equal(t, LocalIsMoreRecent, Compare(distant, local))
}

func TestCompareEqual(t *testing.T) {
	t0 := time.Now().UTC()
	local := historylog.Log{entry(0, t0, historylog.Creation, "H")}
	distant := historylog.Log{entry(0, t0, historylog.Creation, "H")}

	require.Equal(t, Equal, Compare(local, distant))
}

func TestCompareDeletionBias(t *testing.T) {
	t0 := time.Now().UTC()
	// local: update at t0; distant: deletion at t0+5s of the SAME hash history.
	// Deletion's effective time is t0+5s+10s = t0+15s, so distant wins despite
	// its raw timestamp being only 5s after local's update.
	local := historylog.Log{entry(0, t0, historylog.Update, "H")}
	distant := historylog.Log{
		entry(0, t0, historylog.Creation, "H"),
		entry(1, t0.Add(5*time.Second), historylog.Deletion, ""),
	}

	require.Equal(t, DistantIsMoreRecent, Compare(local, distant))
}

func TestCompareDivergeAndContainment(t *testing.T) {
	t0 := time.Now().UTC()
	// Scenario 6 from spec §8.
	local := historylog.Log{
		entry(0, t0, historylog.Creation, "HASH_A"),
		entry(1, t0.Add(time.Minute), historylog.Update, "HASH_B"),
	}
	distant := historylog.Log{
		entry(0, t0, historylog.Creation, "HASH_A"),
		entry(1, t0.Add(time.Minute), historylog.Update, "HASH_C"),
	}

	require.Equal(t, Diverge, Compare(local, distant))

	// Replacing distant with just the creation: local (HASH_B) is not found
	// in distant's single-entry history, and distant's hash (HASH_A) IS
	// found in local's history, so local's later update wins.
	distantCreationOnly := historylog.Log{entry(0, t0, historylog.Creation, "HASH_A")}
	require.Equal(t, LocalIsMoreRecent, Compare(local, distantCreationOnly))

	localCreationOnly := historylog.Log{entry(0, t0, historylog.Creation, "HASH_A")}
	require.Equal(t, DistantIsMoreRecent, Compare(localCreationOnly, distant))
}

func TestCompareSymmetric(t *testing.T) {
	t0 := time.Now().UTC()
	local := historylog.Log{entry(0, t0, historylog.Creation, "HASH_A")}
	distant := historylog.Log{entry(0, t0, historylog.Creation, "HASH_B")}

	require.Equal(t, Diverge, Compare(local, distant))
	require.Equal(t, Diverge, Compare(distant, local))
}
