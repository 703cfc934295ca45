package models

import (
	"fmt"
)

// ProcessLiveness is the failure detector's view of a process. The detector
// is eventually accurate: a DEAD report may lag the actual death, but a
// process reported DEAD never comes back under the same ProcessID.
type ProcessLiveness struct {
	liveness
}

type liveness int

const (
	alive liveness = iota
	dead
)

var (
	strLivenessArray = [...]string{
		alive: "ALIVE",
		dead:  "DEAD",
	}

	typeLivenessMap = map[string]liveness{
		"ALIVE": alive,
		"DEAD":  dead,
	}
)

func (t liveness) String() string {
	return strLivenessArray[t]
}

func ParseProcessLiveness(a any) ProcessLiveness {
	switch v := a.(type) {
	case ProcessLiveness:
		return v
	case string:
		return ProcessLiveness{stringToLiveness(v)}
	case fmt.Stringer:
		return ProcessLiveness{stringToLiveness(v.String())}
	case int:
		return ProcessLiveness{liveness(v)}
	case int64:
		return ProcessLiveness{liveness(int(v))}
	case int32:
		return ProcessLiveness{liveness(int(v))}
	}
	return ProcessLiveness{dead}
}

func stringToLiveness(s string) liveness {
	if v, ok := typeLivenessMap[s]; ok {
		return v
	}
	return dead
}

// IsAlive reports whether the process is currently believed to be reachable.
func (s ProcessLiveness) IsAlive() bool {
	return s.liveness == alive
}

type livenessContainer struct {
	ALIVE ProcessLiveness
	DEAD  ProcessLiveness
}

var ProcessStates = livenessContainer{
	ALIVE: ProcessLiveness{alive},
	DEAD:  ProcessLiveness{dead},
}

func (c livenessContainer) All() []ProcessLiveness {
	return []ProcessLiveness{
		c.ALIVE,
		c.DEAD,
	}
}

func (s ProcessLiveness) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *ProcessLiveness) UnmarshalJSON(b []byte) error {
	val := string(trimQuotes(b))
	*s = ParseProcessLiveness(val)
	return nil
}
