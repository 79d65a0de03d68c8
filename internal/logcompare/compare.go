// Package logcompare implements the pure reconciliation function that
// classifies two file histories (local and distant) for the same identity.
// It holds no state and performs no I/O; callers own the histories and act
// on the verdict. No other package in this module calls it.
package logcompare

import (
	"time"

	"github.com/schwartzmorn/kodiproxy-go/internal/historylog"
)

// Result is the reconciliation verdict for a pair of histories.
type Result int

const (
	Equal Result = iota
	LocalIsMoreRecent
	DistantIsMoreRecent
	Diverge
)

func (r Result) String() string {
	switch r {
	case Equal:
		return "Equal"
	case LocalIsMoreRecent:
		return "LocalIsMoreRecent"
	case DistantIsMoreRecent:
		return "DistantIsMoreRecent"
	case Diverge:
		return "Diverge"
	default:
		return "Unknown"
	}
}

// deletionCausalBias is added to a Deletion/MoveTo event's timestamp before
// comparing it against the other side. A deletion that follows an update
// necessarily observed that update's hash, so its effective causal time is
// after the update's — the bias encodes that without threading vector
// clocks through the comparator. The constant is not exposed as config: no
// tuning knob for it exists anywhere upstream of this port.
const deletionCausalBias = 10 * time.Second

// Compare classifies local against distant per spec §4.4. The result is
// from local's point of view: LocalIsMoreRecent means local should be
// pushed to distant, DistantIsMoreRecent means distant should overwrite
// local.
func Compare(local, distant historylog.Log) Result {
	localEvent, localOK := local.Reduce()
	distantEvent, distantOK := distant.Reduce()

	switch {
	case !localOK && !distantOK:
		return Equal
	case !localOK && distantOK:
		return DistantIsMoreRecent
	case localOK && !distantOK:
		return LocalIsMoreRecent
	}

	localTime := adjustedTime(localEvent)
	distantTime := adjustedTime(distantEvent)

	if localEvent.Hash == distantEvent.Hash {
		switch {
		case localTime.After(distantTime):
			return LocalIsMoreRecent
		case distantTime.After(localTime):
			return DistantIsMoreRecent
		default:
			return Equal
		}
	}

	switch {
	case distant.ContainsHash(localEvent.Hash):
		return DistantIsMoreRecent
	case local.ContainsHash(distantEvent.Hash):
		return LocalIsMoreRecent
	default:
		return Diverge
	}
}

// adjustedTime applies the deletion causal bias to a non-live event and
// returns the raw timestamp for a live one.
func adjustedTime(e *historylog.LastEvent) time.Time {
	if e.Live {
		return e.Timestamp
	}

	return e.Timestamp.Add(deletionCausalBias)
}
