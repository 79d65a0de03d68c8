// Package historylog defines the append-only event model shared by the
// authoritative repository and the cache store: the typed history entry, its
// JSON wire codec, and its plain-text manifest codec.
package historylog

import (
	"fmt"
	"time"
)

// Kind discriminates the variants of a history entry. The zero value is not
// a valid Kind; Entry.Validate rejects it.
type Kind string

const (
	Creation Kind = "Creation"
	Update   Kind = "Update"
	Deletion Kind = "Deletion"
	MoveTo   Kind = "MoveTo"
	MoveFrom Kind = "MoveFrom"
)

// HasHash reports whether entries of this kind carry a content hash.
func (k Kind) HasHash() bool {
	switch k {
	case Creation, Update, MoveFrom:
		return true
	default:
		return false
	}
}

// Terminal reports whether entries of this kind leave the identity not live.
func (k Kind) Terminal() bool {
	return k == Deletion || k == MoveTo
}

// dbOperation is the FILES_HISTORY.operation string tag (spec §6).
func (k Kind) dbOperation() (string, error) {
	switch k {
	case Creation:
		return "CREATION", nil
	case Update:
		return "UPDATE", nil
	case Deletion:
		return "DELETION", nil
	case MoveTo:
		return "MOVE_TO", nil
	case MoveFrom:
		return "MOVE_FROM", nil
	default:
		return "", fmt.Errorf("historylog: unknown kind %q", k)
	}
}

// kindFromDBOperation reverses dbOperation.
func kindFromDBOperation(op string) (Kind, error) {
	switch op {
	case "CREATION":
		return Creation, nil
	case "UPDATE":
		return Update, nil
	case "DELETION":
		return Deletion, nil
	case "MOVE_TO":
		return MoveTo, nil
	case "MOVE_FROM":
		return MoveFrom, nil
	default:
		return "", fmt.Errorf("historylog: unknown operation tag %q", op)
	}
}

// DBOperation exposes dbOperation for storage packages that persist the
// FILES_HISTORY.operation column.
func DBOperation(k Kind) (string, error) { return k.dbOperation() }

// KindFromDBOperation exposes kindFromDBOperation for storage packages that
// read back the FILES_HISTORY.operation column.
func KindFromDBOperation(op string) (Kind, error) { return kindFromDBOperation(op) }

// Entry is one line of a file's history. Field population depends on Kind —
// see the variant table in spec §4.1: Creation/Update carry Hash; Deletion
// carries neither Hash nor a path; MoveTo carries PathTo; MoveFrom carries
// both Hash and PathFrom.
type Entry struct {
	Version   uint32
	Timestamp time.Time
	Address   string // dotted IPv4 or IPv6 literal; operational metadata only
	Kind      Kind
	Hash      string
	PathTo    string
	PathFrom  string
	// Content is the blob stored with Creation, Update and MoveFrom
	// entries. Neither the JSON nor the text codec writes or reads it;
	// storage layers attach it when materializing a row back from
	// FILES_HISTORY.content.
	Content []byte
}

// Validate checks an entry against the required/forbidden field table in
// spec §4.1. It does not check ordering — that is the caller's (Repository's)
// responsibility, since it spans multiple entries.
func (e Entry) Validate() error {
	switch e.Kind {
	case Creation, Update:
		if e.Hash == "" {
			return fmt.Errorf("historylog: %s entry missing hash", e.Kind)
		}
		if e.PathTo != "" || e.PathFrom != "" {
			return fmt.Errorf("historylog: %s entry must not carry a path", e.Kind)
		}
	case Deletion:
		if e.Hash != "" || e.PathTo != "" || e.PathFrom != "" {
			return fmt.Errorf("historylog: Deletion entry must not carry hash or path")
		}
	case MoveTo:
		if e.PathTo == "" {
			return fmt.Errorf("historylog: MoveTo entry missing pathTo")
		}
		if e.Hash != "" {
			return fmt.Errorf("historylog: MoveTo entry must not carry a hash")
		}
	case MoveFrom:
		if e.Hash == "" || e.PathFrom == "" {
			return fmt.Errorf("historylog: MoveFrom entry missing hash or pathFrom")
		}
	default:
		return fmt.Errorf("historylog: unknown kind %q", e.Kind)
	}

	return nil
}

// Log is an ordered sequence of entries for a single identity, ascending by
// Version.
type Log []Entry

// LastEvent is the reduction LogComparator needs: the most recent
// hash-bearing state of a log, tagged with whether it is still live.
type LastEvent struct {
	Live      bool
	Hash      string
	Timestamp time.Time
}

// Reduce implements spec §4.4 step 1: if the log is empty, returns (nil,
// false). If the last entry carries a hash, the event is live. Otherwise it
// walks backward for the most recent hash-bearing entry and reports it as
// not live (a "Deletion" event in spec terms, despite the name — the same
// reduction runs for MoveTo since both are terminal).
func (l Log) Reduce() (*LastEvent, bool) {
	if len(l) == 0 {
		return nil, false
	}

	last := l[len(l)-1]
	if last.Kind.HasHash() {
		return &LastEvent{Live: true, Hash: last.Hash, Timestamp: last.Timestamp}, true
	}

	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Kind.HasHash() {
			return &LastEvent{Live: false, Hash: l[i].Hash, Timestamp: last.Timestamp}, true
		}
	}

	return nil, false
}

// ContainsHash reports whether any entry in the log carries the given hash.
// Used by LogComparator's divergence fallback, which scans full histories
// rather than just their last events.
func (l Log) ContainsHash(hash string) bool {
	for _, e := range l {
		if e.Kind.HasHash() && e.Hash == hash {
			return true
		}
	}

	return false
}
