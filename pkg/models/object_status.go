package models

import (
	"fmt"
)

// ObjectStatus is the lifecycle state of an object. The legal transitions
// are Pending → Available → (Freed | OwnerLost); Freed and OwnerLost are
// both terminal and irreversible. Owner-side entries only ever reach Freed:
// an owner's entry dies with its process, so OwnerLost is observed on the
// borrower side (BorrowerRecord.Status) and in the errors handed to readers.
type ObjectStatus struct {
	objectStatus
}

type objectStatus int

// To add a new status:
// * add it to the end of the const list below
// * add it to strStatusArray and typeStatusMap
// * add it to the statusContainer and the All() method
const (
	pending objectStatus = iota
	available
	freed
	ownerLost
)

var (
	strStatusArray = [...]string{
		pending:   "PENDING",
		available: "AVAILABLE",
		freed:     "FREED",
		ownerLost: "OWNER_LOST",
	}

	typeStatusMap = map[string]objectStatus{
		"PENDING":    pending,
		"AVAILABLE":  available,
		"FREED":      freed,
		"OWNER_LOST": ownerLost,
	}
)

func (t objectStatus) String() string {
	return strStatusArray[t]
}

func ParseObjectStatus(a any) ObjectStatus {
	switch v := a.(type) {
	case ObjectStatus:
		return v
	case string:
		return ObjectStatus{stringToObjectStatus(v)}
	case fmt.Stringer:
		return ObjectStatus{stringToObjectStatus(v.String())}
	case int:
		return ObjectStatus{objectStatus(v)}
	case int64:
		return ObjectStatus{objectStatus(int(v))}
	case int32:
		return ObjectStatus{objectStatus(int(v))}
	}
	return ObjectStatus{pending}
}

func stringToObjectStatus(s string) objectStatus {
	if v, ok := typeStatusMap[s]; ok {
		return v
	}
	return pending
}

// Terminal reports whether no further transitions are allowed.
func (s ObjectStatus) Terminal() bool {
	return s.objectStatus == freed || s.objectStatus == ownerLost
}

type statusContainer struct {
	PENDING    ObjectStatus
	AVAILABLE  ObjectStatus
	FREED      ObjectStatus
	OWNER_LOST ObjectStatus //nolint:stylecheck // mirrors the wire form
}

var ObjectStatuses = statusContainer{
	PENDING:    ObjectStatus{pending},
	AVAILABLE:  ObjectStatus{available},
	FREED:      ObjectStatus{freed},
	OWNER_LOST: ObjectStatus{ownerLost},
}

func (c statusContainer) All() []ObjectStatus {
	return []ObjectStatus{
		c.PENDING,
		c.AVAILABLE,
		c.FREED,
		c.OWNER_LOST,
	}
}

func (s ObjectStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *ObjectStatus) UnmarshalJSON(b []byte) error {
	val := string(trimQuotes(b))
	*s = ParseObjectStatus(val)
	return nil
}

func trimQuotes(b []byte) []byte {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		return b[1 : len(b)-1]
	}
	return b
}
