package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/azogue/pvpcbill/internal/tariff"
)

// TimestampLayout is the serialized form of bill timestamps, local to Europe/Madrid.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a point in time serialized as a local wall-clock string.
type Timestamp struct {
	time.Time
}

// NewTimestamp returns t in the reference zone.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.In(tariff.Location)}
}

// MarshalText implements encoding.TextMarshaler.
func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.In(tariff.Location).Format(TimestampLayout)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. RFC 3339 input is accepted
// too, since a local wall-clock string is ambiguous in the repeated hour of the
// October change.
func (t *Timestamp) UnmarshalText(text []byte) error {
	parsed, err := time.ParseInLocation(TimestampLayout, string(text), tariff.Location)
	if err != nil {
		rfc, rfcErr := time.Parse(time.RFC3339, string(text))
		if rfcErr != nil {
			return fmt.Errorf("parse timestamp %q: %w", text, err)
		}
		parsed = rfc.In(tariff.Location)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON overrides the RFC 3339 encoding promoted from time.Time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the local wall-clock string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	return t.UnmarshalText([]byte(s))
}

func (t Timestamp) String() string {
	return t.In(tariff.Location).Format(TimestampLayout)
}
