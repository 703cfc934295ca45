package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	objectIDPrefix  = "obj-"
	processIDPrefix = "proc-"
)

// ObjectID uniquely identifies one immutable payload. IDs are generated at
// creation time and never reused, even after the object is reclaimed.
type ObjectID string

// NewObjectID returns a fresh ObjectID.
func NewObjectID() ObjectID {
	return ObjectID(objectIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (id ObjectID) String() string {
	return string(id)
}

// Valid reports whether the ID has the expected token shape.
func (id ObjectID) Valid() bool {
	return objectIDPattern.MatchString(string(id))
}

// ShortID returns a truncated form suitable for log lines.
func (id ObjectID) ShortID() string {
	if len(id) <= len(objectIDPrefix)+8 {
		return string(id)
	}
	return string(id[:len(objectIDPrefix)+8])
}

// ProcessID identifies a live process. It is used both as a routing address
// for RPC and as the key the failure detector reports liveness against.
type ProcessID string

// NewProcessID returns a fresh ProcessID.
func NewProcessID() ProcessID {
	return ProcessID(processIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (id ProcessID) String() string {
	return string(id)
}

func (id ProcessID) ShortID() string {
	if len(id) <= len(processIDPrefix)+8 {
		return string(id)
	}
	return string(id[:len(processIDPrefix)+8])
}

var objectIDPattern = regexp.MustCompile(objectIDPrefix + `[0-9a-f]{32}`)

// ContainedIDs scans a serialized payload for embedded object references and
// returns them deduplicated, in order of first appearance. Payloads are
// opaque to this subsystem; the only structure we rely on is the ID token
// format, which serializers embed verbatim.
func ContainedIDs(payload []byte) []ObjectID {
	matches := objectIDPattern.FindAll(payload, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[ObjectID]struct{}, len(matches))
	ids := make([]ObjectID, 0, len(matches))
	for _, m := range matches {
		id := ObjectID(m)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

var _ fmt.Stringer = ObjectID("")
var _ fmt.Stringer = ProcessID("")
