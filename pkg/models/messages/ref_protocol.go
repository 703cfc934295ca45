// Package messages holds the wire payloads of the reference-count protocol.
// Every struct here crosses process boundaries through the transport
// envelope; field names are part of the wire contract.
package messages

import "github.com/refmesh/refmesh/pkg/models"

// Message type names used to register payloads with the transport.
const (
	RegisterOwnerRequestType  = "RefMesh.RegisterOwnerRequest"
	RegisterOwnerResponseType = "RefMesh.RegisterOwnerResponse"
	IncrementRequestType      = "RefMesh.IncrementRequest"
	DecrementRequestType      = "RefMesh.DecrementRequest"
	RefCountResponseType      = "RefMesh.RefCountResponse"
	ReceiveReferenceType      = "RefMesh.ReceiveReference"
	ReachabilityRequestType   = "RefMesh.ReachabilityRequest"
	ReachabilityReportType    = "RefMesh.ReachabilityReport"
	GetObjectRequestType      = "RefMesh.GetObjectRequest"
	GetObjectResponseType     = "RefMesh.GetObjectResponse"
	ErrorResponseType         = "RefMesh.ErrorResponse"
)

// RegisterOwnerRequest asks a process to take ownership of a freshly created
// object. Sent by the creator when an explicit owner was designated; the
// payload travels with the request so the owner's directory becomes the
// durable home of the data before the creator can exit.
type RegisterOwnerRequest struct {
	ObjectID models.ObjectID  `json:"ObjectID"`
	Creator  models.ProcessID `json:"Creator"`
	Payload  []byte           `json:"Payload"`
	// Contained lists references embedded in the payload, enumerated by the
	// serialization layer on the creator.
	Contained []models.ObjectRef `json:"Contained,omitempty"`
}

type RegisterOwnerResponse struct {
	ObjectID models.ObjectID     `json:"ObjectID"`
	Status   models.ObjectStatus `json:"Status"`
}

// IncrementRequest tells the owner a process now holds a live reference.
// Sequence is monotone per (object, sender); the owner drops replays.
type IncrementRequest struct {
	ObjectID models.ObjectID  `json:"ObjectID"`
	Sender   models.ProcessID `json:"Sender"`
	Sequence uint64           `json:"Sequence"`
}

// DecrementRequest tells the owner the sender dropped its last local handle.
// KnownSubBorrowers carries the branch the sender fronted, so the owner can
// re-root those processes instead of losing track of them when the sender's
// grace period ends.
type DecrementRequest struct {
	ObjectID          models.ObjectID    `json:"ObjectID"`
	Sender            models.ProcessID   `json:"Sender"`
	Sequence          uint64             `json:"Sequence"`
	KnownSubBorrowers []models.ProcessID `json:"KnownSubBorrowers,omitempty"`
}

type RefCountResponse struct {
	ObjectID models.ObjectID     `json:"ObjectID"`
	Status   models.ObjectStatus `json:"Status"`
	RefCount uint64              `json:"RefCount"`
}

// ReceiveReference delivers a forwarded reference to a new borrower. From is
// the forwarding process, which becomes the recipient's parent in the
// borrower tree.
type ReceiveReference struct {
	ObjectID models.ObjectID  `json:"ObjectID"`
	Owner    models.ProcessID `json:"Owner"`
	From     models.ProcessID `json:"From"`
}

// ReachabilityRequest is the owner asking a (possibly retired) borrower
// whether its branch still has live descendants. Unanswered requests retire
// the branch after the grace period.
type ReachabilityRequest struct {
	ObjectID models.ObjectID  `json:"ObjectID"`
	Owner    models.ProcessID `json:"Owner"`
}

type ReachabilityReport struct {
	ObjectID models.ObjectID  `json:"ObjectID"`
	Sender   models.ProcessID `json:"Sender"`
	// HasLiveBranch is true if the sender itself still holds the reference
	// or knows of sub-borrowers that might.
	HasLiveBranch bool `json:"HasLiveBranch"`
	// SubBorrowers are descendants this branch fronted. The owner holds the
	// object for each until it registers or its own confirmation fails.
	SubBorrowers []models.ProcessID `json:"SubBorrowers,omitempty"`
}

// GetObjectRequest is a borrower's read-through fetch from the owner.
type GetObjectRequest struct {
	ObjectID models.ObjectID  `json:"ObjectID"`
	Sender   models.ProcessID `json:"Sender"`
}

type GetObjectResponse struct {
	ObjectID models.ObjectID     `json:"ObjectID"`
	Status   models.ObjectStatus `json:"Status"`
	Payload  []byte              `json:"Payload"`
	// Contained lets the reader register as a borrower of the inner
	// references it just discovered.
	Contained []models.ObjectRef `json:"Contained,omitempty"`
}

// ErrorResponse carries a protocol error across the wire; the requester
// rehydrates it into a models.BaseError with the same code.
type ErrorResponse struct {
	Code    models.ErrorCode `json:"Code"`
	Message string           `json:"Message"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

// ToError rebuilds a typed error from a wire error response.
func (e *ErrorResponse) ToError() error {
	return models.NewBaseError("%s", e.Message).WithCode(e.Code)
}

// FromError converts any error into its wire form.
func FromError(err error) *ErrorResponse {
	return &ErrorResponse{
		Code:    models.CodeOf(err),
		Message: err.Error(),
	}
}
