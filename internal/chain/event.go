package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// EventType is the kind of key transition that was observed.
type EventType string

const (
	KeyDown EventType = "keydown"
	KeyUp   EventType = "keyup"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == KeyDown || t == KeyUp
}

// ParseEventType converts a wire string into an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("chain: unknown event type %q", s)
	}
	return t, nil
}

// Event is a single keystroke observation: milliseconds since the Unix epoch
// and whether the key went down or up. Events carry no key identity.
type Event struct {
	Timestamp int64
	Type      EventType
}

// MarshalJSON encodes the event as the two-element tuple [timestamp, type].
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(strconv.FormatInt(e.Timestamp, 10))
	buf.WriteByte(',')
	typ, err := json.Marshal(string(e.Type))
	if err != nil {
		return nil, err
	}
	buf.Write(typ)
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the [timestamp, type] tuple. Timestamps must be
// integers and the type must be keydown or keyup.
func (e *Event) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("chain: event must be a [timestamp, type] pair: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("chain: event must have 2 elements, got %d", len(parts))
	}

	dec := json.NewDecoder(bytes.NewReader(parts[0]))
	dec.UseNumber()
	var num json.Number
	if err := dec.Decode(&num); err != nil {
		return fmt.Errorf("chain: event timestamp: %w", err)
	}
	ts, err := num.Int64()
	if err != nil {
		return fmt.Errorf("chain: event timestamp %s is not an integer", num)
	}

	var typ string
	if err := json.Unmarshal(parts[1], &typ); err != nil {
		return fmt.Errorf("chain: event type: %w", err)
	}
	t, err := ParseEventType(typ)
	if err != nil {
		return err
	}

	e.Timestamp = ts
	e.Type = t
	return nil
}

// tuple is the generic form handed to the canonical encoder.
func (e Event) tuple() []any {
	return []any{e.Timestamp, string(e.Type)}
}
