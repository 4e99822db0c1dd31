package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NumChannels is the number of channel slots on a reading.
const NumChannels = 8

// TimestampLayout is the layout used when a single channel value is reported,
// e.g. "07 March 2025, 14:05".
const TimestampLayout = "02 January 2006, 15:04"

// Channel identifies one of the D1..D8 slots. The zero value is D1.
type Channel int

const (
	D1 Channel = iota
	D2
	D3
	D4
	D5
	D6
	D7
	D8
)

// AllChannels lists every channel in order.
var AllChannels = [NumChannels]Channel{D1, D2, D3, D4, D5, D6, D7, D8}

// String returns the wire name, "D1" through "D8".
func (c Channel) String() string {
	return fmt.Sprintf("D%d", int(c)+1)
}

// Valid reports whether c is one of D1..D8.
func (c Channel) Valid() bool {
	return c >= D1 && c <= D8
}

// ParseChannel accepts "D3", "d3" or "3".
func ParseChannel(s string) (Channel, error) {
	n := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "D")
	if len(n) != 1 || n[0] < '1' || n[0] > '8' {
		return 0, fmt.Errorf("unknown channel %q", s)
	}
	return Channel(n[0] - '1'), nil
}

// Channels holds the optional value of every channel. A nil entry means the
// channel was not reported.
type Channels [NumChannels]*float64

// Get returns the value of c, or nil.
func (cs Channels) Get(c Channel) *float64 {
	if !c.Valid() {
		return nil
	}
	return cs[c]
}

// Set stores v for c.
func (cs *Channels) Set(c Channel, v float64) {
	cs[c] = &v
}

// Populated counts non-null channels.
func (cs Channels) Populated() int {
	n := 0
	for _, v := range cs {
		if v != nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers cannot alias stored values.
func (cs Channels) Clone() Channels {
	var out Channels
	for i, v := range cs {
		if v != nil {
			val := *v
			out[i] = &val
		}
	}
	return out
}

// MarshalJSON renders every channel, null included.
func (cs Channels) MarshalJSON() ([]byte, error) {
	m := make(map[string]*float64, NumChannels)
	for _, c := range AllChannels {
		m[c.String()] = cs[c]
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts any subset of D1..D8 (case-insensitive). Keys that are
// not channels are ignored; channel values must be numbers or null.
func (cs *Channels) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Channels
	for k, v := range raw {
		c, err := ParseChannel(k)
		if err != nil || !strings.HasPrefix(strings.ToUpper(k), "D") {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return fmt.Errorf("%s must be a number or null", c)
		}
		out.Set(c, f)
	}
	*cs = out
	return nil
}

// Reading is one timestamped telemetry row.
type Reading struct {
	ID        int64
	UserID    int64
	Timestamp time.Time
	Channels  Channels
}

type readingJSON struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON flattens the channels next to the row metadata:
// {"id":1,"user_id":2,"timestamp":"...","D1":10,"D2":null,...}.
func (r Reading) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"id":        r.ID,
		"user_id":   r.UserID,
		"timestamp": r.Timestamp,
	}
	for _, c := range AllChannels {
		m[c.String()] = r.Channels[c]
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var meta readingJSON
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}
	var cs Channels
	if err := json.Unmarshal(data, &cs); err != nil {
		return err
	}
	*r = Reading{ID: meta.ID, UserID: meta.UserID, Timestamp: meta.Timestamp, Channels: cs}
	return nil
}

// ChannelValue is the answer to a latest-value query for one channel.
type ChannelValue struct {
	Channel   Channel
	Value     float64
	Timestamp time.Time
}

// FormattedTimestamp renders the timestamp with TimestampLayout in UTC.
func (v ChannelValue) FormattedTimestamp() string {
	return v.Timestamp.UTC().Format(TimestampLayout)
}
