package envelope

import (
	"strconv"
	"time"
)

// Metadata keys understood by the envelope layer itself. Transports add
// their own keys (sender, sequence) on top.
const (
	KeyMessageType     = "RefMesh-Type"
	KeyMessageID       = "RefMesh-MessageID"
	KeySource          = "RefMesh-Source"
	KeySequence        = "RefMesh-Sequence"
	KeyEventTime       = "RefMesh-EventTime"
	KeyPayloadEncoding = "RefMesh-PayloadEncoding"
)

// Metadata is the string map carried alongside every wire payload.
type Metadata map[string]string

// NewMetadataFromMap creates a shallow-copy Metadata from a map. Changes to
// the map are reflected in the Metadata object.
func NewMetadataFromMap(m map[string]string) *Metadata {
	if m == nil {
		return &Metadata{}
	}
	metadata := Metadata(m)
	return &metadata
}

// Get returns the value for key, or "" when absent.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Has checks if a key exists in the metadata.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Set sets the value for a given key.
func (m Metadata) Set(key, value string) {
	m[key] = value
}

// SetUint64 stores value under key in decimal form.
func (m Metadata) SetUint64(key string, value uint64) {
	m[key] = strconv.FormatUint(value, 10)
}

// GetUint64 parses the value under key, returning 0 when absent or
// malformed.
func (m Metadata) GetUint64(key string) uint64 {
	if val, ok := m[key]; ok {
		if v, err := strconv.ParseUint(val, 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// SetTime stores value under key as unix nanoseconds.
func (m Metadata) SetTime(key string, value time.Time) {
	m[key] = strconv.FormatInt(value.UnixNano(), 10)
}

// GetTime parses the value under key, returning the zero time when absent
// or malformed.
func (m Metadata) GetTime(key string) time.Time {
	if val, ok := m[key]; ok {
		if ns, err := strconv.ParseInt(val, 10, 64); err == nil {
			return time.Unix(0, ns)
		}
	}
	return time.Time{}
}
