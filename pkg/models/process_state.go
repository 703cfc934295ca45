package models

import "time"

// ProcessInfo describes a process that can hold any combination of the
// creator, owner, and borrower roles. There is deliberately no distinct type
// per role: any process may hold all three simultaneously for different
// objects.
type ProcessInfo struct {
	ID ProcessID `json:"ID"`
	// Subject is the transport address messages to this process are sent to.
	Subject string `json:"Subject"`
	// Labels are free-form placement metadata; the lifetime protocol never
	// reads them.
	Labels map[string]string `json:"Labels,omitempty"`
}

// ProcessState pairs a process's static info with the failure detector's
// current view of it.
type ProcessState struct {
	Info     ProcessInfo     `json:"Info"`
	Liveness ProcessLiveness `json:"Liveness"`
	// LastSeen is when the detector last confirmed the process alive.
	LastSeen time.Time `json:"LastSeen,omitempty"`
}

// LivenessEvent is published whenever the failure detector changes its view
// of a process.
type LivenessEvent struct {
	ProcessID ProcessID       `json:"ProcessID"`
	Liveness  ProcessLiveness `json:"Liveness"`
	Timestamp time.Time       `json:"Timestamp"`
}
