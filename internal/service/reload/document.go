package reload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Shape tells which layout a reload document uses.
type Shape int

const (
	// Keyed documents map source names to snapshots.
	Keyed Shape = iota
	// Flat documents are a single snapshot for the legacy source.
	Flat
)

func (s Shape) String() string {
	if s == Flat {
		return "flat"
	}
	return "keyed"
}

// ErrMalformedDocument indicates the payload is not a JSON object of the expected shape.
var ErrMalformedDocument = errors.New("reload: malformed document")

// Count is one key/value entry of a snapshot.
type Count struct {
	Key   string
	Value int64
}

// Snapshot is the historical state of one source. Repos and Rates keep the
// order in which the document lists them.
type Snapshot struct {
	Repos []Count
	Rates []Count
	// Invalid counts entries whose value was not a non-negative integer.
	Invalid int
}

// Document is a parsed reload payload. Exactly one of Sources (Keyed) or
// Single (Flat) is populated.
type Document struct {
	Shape   Shape
	Sources map[string]Snapshot
	Single  *Snapshot
}

// For returns the snapshot to merge into source. The flat snapshot is only
// handed to the legacy source.
func (d Document) For(source, legacy string) (Snapshot, bool) {
	switch d.Shape {
	case Flat:
		if d.Single != nil && source == legacy {
			return *d.Single, true
		}
		return Snapshot{}, false
	default:
		snap, ok := d.Sources[source]
		return snap, ok
	}
}

type rawSnapshot struct {
	Repos orderedCounts `json:"repos"`
	Rates orderedCounts `json:"rates"`
}

// orderedCounts decodes a JSON object of counts without losing key order.
type orderedCounts struct {
	entries []Count
	invalid int
}

func (o *orderedCounts) UnmarshalJSON(raw []byte) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		n, ok := parseCount(value)
		if !ok {
			o.invalid++
			continue
		}
		o.entries = append(o.entries, Count{Key: key, Value: n})
	}
	_, err = dec.Token()
	return err
}

// ParseDocument resolves the payload shape once. A top-level "repos" or
// "rates" object marks the flat layout; otherwise every top-level value that
// is an object is a keyed source snapshot.
func ParseDocument(raw []byte) (Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if top == nil {
		return Document{}, fmt.Errorf("%w: document is null", ErrMalformedDocument)
	}
	if isObject(top["repos"]) || isObject(top["rates"]) {
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return Document{}, err
		}
		return Document{Shape: Flat, Single: &snap}, nil
	}
	doc := Document{Shape: Keyed, Sources: make(map[string]Snapshot, len(top))}
	for name, value := range top {
		if !isObject(value) {
			continue
		}
		snap, err := decodeSnapshot(value)
		if err != nil {
			return Document{}, fmt.Errorf("source %s: %w", name, err)
		}
		doc.Sources[name] = snap
	}
	return doc, nil
}

func decodeSnapshot(raw []byte) (Snapshot, error) {
	var rs rawSnapshot
	if err := json.Unmarshal(raw, &rs); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return Snapshot{
		Repos:   rs.Repos.entries,
		Rates:   rs.Rates.entries,
		Invalid: rs.Repos.invalid + rs.Rates.invalid,
	}, nil
}

func parseCount(raw json.RawMessage) (int64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f < 0 || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp reads an ISO-8601 timestamp. Values without an offset are
// taken as UTC. The result is always in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
