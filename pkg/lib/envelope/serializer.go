package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrNilMessage      = errors.New("message cannot be nil")
	ErrEmptyData       = errors.New("cannot deserialize empty data")
	ErrUnknownType     = errors.New("unknown message type")
	ErrTypeRegistered  = errors.New("message type already registered")
	ErrMissingTypeName = errors.New("message metadata has no type name")
)

// Registry maps wire type names to Go types so a received payload can be
// rehydrated into the right struct. Registration happens once at process
// startup; lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]reflect.Type),
	}
}

// Register associates name with the concrete type of prototype. The
// prototype value itself is discarded.
func (r *Registry) Register(name string, prototype any) error {
	if name == "" {
		return ErrMissingTypeName
	}
	t := reflect.TypeOf(prototype)
	if t == nil {
		return fmt.Errorf("cannot register nil prototype for %q", name)
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("%w: %s", ErrTypeRegistered, name)
	}
	r.types[name] = t
	return nil
}

func (r *Registry) lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Serialize encodes a typed message's payload to JSON, stamping the type
// name into the metadata for the receiving side's registry lookup.
func (r *Registry) Serialize(name string, message *Message) (*EncodedMessage, error) {
	if message == nil {
		return nil, ErrNilMessage
	}
	data, err := json.Marshal(message.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s payload: %w", name, err)
	}
	message.Metadata.Set(KeyMessageType, name)
	message.Metadata.Set(KeyPayloadEncoding, "json")
	return &EncodedMessage{
		Metadata: message.Metadata,
		Payload:  data,
	}, nil
}

// Deserialize rebuilds a typed message from its encoded form, using the
// type name stamped in the metadata.
func (r *Registry) Deserialize(encoded *EncodedMessage) (*Message, error) {
	if encoded == nil {
		return nil, ErrNilMessage
	}
	name := encoded.Metadata.Get(KeyMessageType)
	if name == "" {
		return nil, ErrMissingTypeName
	}
	t, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	instance := reflect.New(t).Interface()
	if err := json.Unmarshal(encoded.Payload, instance); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s payload: %w", name, err)
	}
	return &Message{
		Metadata: encoded.Metadata,
		Payload:  instance,
	}, nil
}

// serializableMessage is the on-wire JSON form of an EncodedMessage.
type serializableMessage struct {
	Metadata *Metadata       `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Serializer converts EncodedMessages to and from wire bytes.
type Serializer struct{}

func NewSerializer() *Serializer {
	return &Serializer{}
}

func (s *Serializer) Serialize(msg *EncodedMessage) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	return json.Marshal(serializableMessage{
		Metadata: msg.Metadata,
		Payload:  json.RawMessage(msg.Payload),
	})
}

func (s *Serializer) Deserialize(data []byte) (*EncodedMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	var wire serializableMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	metadata := wire.Metadata
	if metadata == nil {
		metadata = &Metadata{}
	}
	return &EncodedMessage{
		Metadata: metadata,
		Payload:  wire.Payload,
	}, nil
}
