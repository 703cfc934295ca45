package natstrans

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/lib/envelope"
	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/models/messages"
)

var (
	// ErrHandlerExists is returned when attempting to register a handler
	// for a message type that already has one.
	ErrHandlerExists = errors.New("handler already exists for message type")

	// ErrNoHandler is returned when no handler is found for a message type.
	ErrNoHandler = errors.New("no handler found for message type")
)

// RequestHandler processes one typed request and returns the response
// payload (with its wire type name) or an error.
type RequestHandler func(ctx context.Context, msg *envelope.Message) (string, any, error)

type ResponderConfig struct {
	// Name identifies the responding process; stamped as response source.
	Name string
	// Subject is the NATS subject to answer on.
	Subject           string
	MessageSerializer *envelope.Serializer
	MessageRegistry   *envelope.Registry
}

func (c *ResponderConfig) setDefaults() {
	if c.MessageSerializer == nil {
		c.MessageSerializer = envelope.NewSerializer()
	}
}

func (c *ResponderConfig) Validate() error {
	return errors.Join(
		validate.NotBlank(c.Name, "responder name cannot be blank"),
		validate.NotBlank(c.Subject, "responder subject cannot be blank"),
		validate.NotNil(c.MessageRegistry, "message registry cannot be nil"),
	)
}

// responder subscribes to one process subject and dispatches requests to
// per-message-type handlers.
type responder struct {
	nc     *nats.Conn
	config ResponderConfig

	handlers     map[string]RequestHandler
	subscription *nats.Subscription
	mu           sync.RWMutex
}

// NewResponder creates a new responder instance.
func NewResponder(nc *nats.Conn, config ResponderConfig) (*responder, error) {
	config.setDefaults()

	r := &responder{
		nc:       nc,
		config:   config,
		handlers: make(map[string]RequestHandler),
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("error validating responder: %w", err)
	}
	return r, nil
}

func (r *responder) validate() error {
	return errors.Join(
		validate.NotNil(r.nc, "NATS connection cannot be nil"),
		r.config.Validate(),
	)
}

// Listen registers a handler for a specific message type. The first
// registration creates the NATS subscription.
func (r *responder) Listen(ctx context.Context, messageType string, handler RequestHandler) error {
	if err := validate.NotBlank(messageType, "message type cannot be blank"); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, messageType)
	}
	r.handlers[messageType] = handler
	log.Ctx(ctx).Debug().Str("messageType", messageType).Msg("Registered new message handler")

	if r.subscription == nil {
		sub, err := r.nc.Subscribe(r.config.Subject, r.handleRequest)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", r.config.Subject, err)
		}
		r.subscription = sub
		log.Ctx(ctx).Debug().Str("subject", r.config.Subject).Msg("Created NATS subscription")
	}
	return nil
}

func (r *responder) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscription != nil && r.subscription.IsValid() {
		if err := r.subscription.Unsubscribe(); err != nil {
			return fmt.Errorf("error closing subscription: %w", err)
		}
		r.subscription = nil
	}
	r.handlers = make(map[string]RequestHandler)
	return nil
}

func (r *responder) handleRequest(msg *nats.Msg) {
	ctx := context.Background()

	respond := func(msgType string, payload any) {
		message := envelope.NewMessage(payload).
			WithMetadataValue(envelope.KeySource, r.config.Name)
		encoded, err := r.config.MessageRegistry.Serialize(msgType, message)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to serialize response")
			return
		}
		data, err := r.config.MessageSerializer.Serialize(encoded)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to serialize response envelope")
			return
		}
		if err = msg.Respond(data); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to respond to request")
		}
	}

	encoded, err := r.config.MessageSerializer.Deserialize(msg.Data)
	if err != nil {
		respond(messages.ErrorResponseType, messages.FromError(err))
		return
	}
	request, err := r.config.MessageRegistry.Deserialize(encoded)
	if err != nil {
		respond(messages.ErrorResponseType, messages.FromError(err))
		return
	}

	messageType := request.Metadata.Get(envelope.KeyMessageType)
	r.mu.RLock()
	handler, ok := r.handlers[messageType]
	r.mu.RUnlock()
	if !ok {
		respond(messages.ErrorResponseType, messages.FromError(
			fmt.Errorf("%w: %s", ErrNoHandler, messageType)))
		return
	}

	respType, respPayload, err := handler(ctx, request)
	if err != nil {
		respond(messages.ErrorResponseType, messages.FromError(err))
		return
	}
	respond(respType, respPayload)
}
