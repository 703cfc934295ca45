package models

// ObjectRef is the handle processes pass around: the object's identity plus
// the address of the process that governs its lifetime. Everything needed
// to read the object or register as its borrower travels with the ref.
type ObjectRef struct {
	ID    ObjectID  `json:"ID"`
	Owner ProcessID `json:"Owner"`
}

func (r ObjectRef) String() string {
	return r.ID.String()
}

// Valid reports whether the ref carries both an ID and an owner address.
func (r ObjectRef) Valid() bool {
	return r.ID.Valid() && r.Owner != ""
}
