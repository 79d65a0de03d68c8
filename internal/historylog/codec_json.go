package historylog

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEntry mirrors the JSON wire shape from spec §6:
//
//	{"timestamp":"...","address":"...","entry":{"type":"Creation","version":0,"hash":"..."}}
type wireEntry struct {
	Timestamp string      `json:"timestamp"`
	Address   string      `json:"address"`
	Entry     wirePayload `json:"entry"`
}

type wirePayload struct {
	Type     string `json:"type"`
	Version  uint32 `json:"version"`
	Hash     string `json:"hash,omitempty"`
	PathTo   string `json:"pathTo,omitempty"`
	PathFrom string `json:"pathFrom,omitempty"`
}

// MarshalJSON renders a Log as the history-versions array from spec §6.
func (l Log) MarshalJSON() ([]byte, error) {
	out := make([]wireEntry, len(l))
	for i, e := range l {
		out[i] = wireEntry{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Address:   e.Address,
			Entry: wirePayload{
				Type:     string(e.Kind),
				Version:  e.Version,
				Hash:     e.Hash,
				PathTo:   e.PathTo,
				PathFrom: e.PathFrom,
			},
		}
	}

	return json.Marshal(out)
}

// UnmarshalJSON reads a Log from the history-versions wire format. Unlike
// the text codec, a malformed element is a hard error: this codec is only
// ever used for the HTTP response body, which this process itself produces
// and consumes in tests — there is no "foreign, possibly corrupt" source to
// be lenient about.
func (l *Log) UnmarshalJSON(data []byte) error {
	var raw []wireEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("historylog: decoding JSON log: %w", err)
	}

	out := make(Log, len(raw))
	for i, w := range raw {
		ts, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return fmt.Errorf("historylog: decoding JSON entry %d timestamp: %w", i, err)
		}

		e := Entry{
			Version:   w.Entry.Version,
			Timestamp: ts,
			Address:   w.Address,
			Kind:      Kind(w.Entry.Type),
			Hash:      w.Entry.Hash,
			PathTo:    w.Entry.PathTo,
			PathFrom:  w.Entry.PathFrom,
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("historylog: decoding JSON entry %d: %w", i, err)
		}

		out[i] = e
	}

	*l = out

	return nil
}
