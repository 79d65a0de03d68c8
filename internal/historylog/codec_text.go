package historylog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// lineRE splits a text-codec line into timestamp, address, and the
// remaining "Variant[payload]" tail. Grammar (spec §4.1):
//
//	"<rfc3339> [<ip>] <Variant>[<payload>]"
var lineRE = regexp.MustCompile(`^(\S+) \[(.*?)\] (\w+)\[(.*)\]$`)

// payloadRE splits a MoveTo/MoveFrom payload on the literal colons the
// grammar reserves for version/hash/path fields.
var payloadRE = regexp.MustCompile(`^([^:]*):([^:]*):(.*)$`)

// WriteText encodes a Log in the one-line-per-entry text manifest format.
func (l Log) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)

	for _, e := range l {
		line, err := encodeTextLine(e)
		if err != nil {
			return err
		}

		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("historylog: writing text line: %w", err)
		}
	}

	return bw.Flush()
}

func encodeTextLine(e Entry) (string, error) {
	var payload string

	switch e.Kind {
	case Creation, Update:
		payload = fmt.Sprintf("%d:%s", e.Version, e.Hash)
	case Deletion:
		payload = ""
	case MoveTo:
		// Per spec §4.1's grammar, MoveTo's payload omits the version field
		// entirely (unlike Creation/Update/MoveFrom): "MoveTo[::<path>]".
		payload = fmt.Sprintf("::%s", e.PathTo)
	case MoveFrom:
		payload = fmt.Sprintf("%d:%s:%s", e.Version, e.Hash, e.PathFrom)
	default:
		return "", fmt.Errorf("historylog: unknown kind %q", e.Kind)
	}

	return fmt.Sprintf("%s [%s] %s[%s]",
		e.Timestamp.UTC().Format(time.RFC3339), e.Address, e.Kind, payload), nil
}

// ReadText decodes the text manifest format. Per spec §4.1, unknown variants
// and unparseable lines are silently skipped (logged at debug level, not
// surfaced as an error) — a single bad line never aborts the read. Empty
// lines are skipped without logging.
func ReadText(r io.Reader, logger *slog.Logger) Log {
	var out Log

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		e, err := decodeTextLine(line)
		if err != nil {
			logger.Debug("historylog: skipping unparseable line",
				slog.Int("line", lineNo), slog.String("error", err.Error()))

			continue
		}

		out = append(out, e)
	}

	return out
}

func decodeTextLine(line string) (Entry, error) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, fmt.Errorf("historylog: line does not match grammar")
	}

	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return Entry{}, fmt.Errorf("historylog: parsing timestamp: %w", err)
	}

	address := m[2]
	variant := m[3]
	payload := m[4]

	// Update's DB/history alias: older manifests spell it "Modification".
	kind := Kind(variant)
	if variant == "Modification" {
		kind = Update
	}

	e := Entry{Timestamp: ts, Address: address, Kind: kind}

	switch kind {
	case Creation, Update:
		v, h, ok := splitVersionHash(payload)
		if !ok {
			return Entry{}, fmt.Errorf("historylog: malformed %s payload %q", kind, payload)
		}

		e.Version, e.Hash = v, h
	case Deletion:
		// no payload fields
	case MoveTo:
		pm := payloadRE.FindStringSubmatch(payload)
		if pm == nil {
			return Entry{}, fmt.Errorf("historylog: malformed MoveTo payload %q", payload)
		}

		// WriteText leaves MoveTo's version field empty (spec §4.1:
		// "MoveTo[::<path>]"), so it usually decodes as 0; a non-empty
		// version field is still parsed when a line carries one.
		if pm[1] != "" {
			v, err := strconv.ParseUint(pm[1], 10, 32)
			if err != nil {
				return Entry{}, fmt.Errorf("historylog: parsing MoveTo version: %w", err)
			}

			e.Version = uint32(v)
		}

		e.PathTo = pm[3]
	case MoveFrom:
		pm := payloadRE.FindStringSubmatch(payload)
		if pm == nil {
			return Entry{}, fmt.Errorf("historylog: malformed MoveFrom payload %q", payload)
		}

		v, err := strconv.ParseUint(pm[1], 10, 32)
		if err != nil {
			return Entry{}, fmt.Errorf("historylog: parsing MoveFrom version: %w", err)
		}

		e.Version = uint32(v)
		e.Hash = pm[2]
		e.PathFrom = pm[3]
	default:
		return Entry{}, fmt.Errorf("historylog: unknown variant %q", variant)
	}

	if err := e.Validate(); err != nil {
		return Entry{}, err
	}

	return e, nil
}

// splitVersionHash parses the "v:h" payload shared by Creation and Update.
func splitVersionHash(payload string) (uint32, string, bool) {
	idx := strings.IndexByte(payload, ':')
	if idx < 0 {
		return 0, "", false
	}

	v, err := strconv.ParseUint(payload[:idx], 10, 32)
	if err != nil {
		return 0, "", false
	}

	return uint32(v), payload[idx+1:], true
}
