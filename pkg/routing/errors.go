package routing

import (
	"fmt"

	"github.com/refmesh/refmesh/pkg/models"
)

// ErrProcessNotFound is returned when no state was found for a requested
// process ID.
type ErrProcessNotFound struct {
	processID models.ProcessID
}

func NewErrProcessNotFound(processID models.ProcessID) ErrProcessNotFound {
	return ErrProcessNotFound{processID: processID}
}

func (e ErrProcessNotFound) Error() string {
	return fmt.Sprintf("process state not found for process: %s", e.processID)
}
