package envelope

// Message is a fully deserialized message ready for processing: metadata
// plus a typed payload. Handlers receive and return this form; only the
// serializer sees bytes.
type Message struct {
	Metadata *Metadata
	Payload  any
}

// NewMessage creates a new Message with the given payload.
func NewMessage(payload any) *Message {
	return &Message{
		Metadata: &Metadata{},
		Payload:  payload,
	}
}

// WithMetadata sets the metadata for the message.
func (m *Message) WithMetadata(metadata *Metadata) *Message {
	m.Metadata = metadata
	return m
}

// WithMetadataValue sets a key-value pair in the metadata.
func (m *Message) WithMetadataValue(key, value string) *Message {
	m.Metadata.Set(key, value)
	return m
}

// EncodedMessage is a message after payload serialization: metadata plus the
// payload's byte form. It is the boundary between the registry (typed) and
// the serializer (bytes on the wire).
type EncodedMessage struct {
	Metadata *Metadata
	Payload  []byte
}
