package natstrans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/refmesh/refmesh/pkg/lib/envelope"
	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
)

// processSubject is the NATS subject a process answers protocol requests on.
func processSubject(processID models.ProcessID) string {
	return fmt.Sprintf("refmesh.process.%s", processID)
}

type RequesterConfig struct {
	// Name identifies the requesting process; stamped as message source.
	Name string
	// MessageSerializer converts envelopes to and from wire bytes.
	MessageSerializer *envelope.Serializer
	// MessageRegistry maps type names to payload types.
	MessageRegistry *envelope.Registry
	// RequestTimeout bounds each round-trip when the caller's context has
	// no earlier deadline.
	RequestTimeout time.Duration
}

func (c *RequesterConfig) setDefaults() {
	if c.MessageSerializer == nil {
		c.MessageSerializer = envelope.NewSerializer()
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

func (c *RequesterConfig) Validate() error {
	return errors.Join(
		validate.NotBlank(c.Name, "requester name cannot be blank"),
		validate.NotNil(c.MessageRegistry, "message registry cannot be nil"),
	)
}

// requester sends typed protocol requests to a target process's subject and
// decodes the typed response.
type requester struct {
	nc     *nats.Conn
	config RequesterConfig
}

// NewRequester creates a new requester with the given config.
func NewRequester(nc *nats.Conn, config RequesterConfig) (*requester, error) {
	config.setDefaults()

	r := &requester{
		nc:     nc,
		config: config,
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("error validating requester: %w", err)
	}
	return r, nil
}

func (r *requester) validate() error {
	return errors.Join(
		validate.NotNil(r.nc, "NATS connection cannot be nil"),
		r.config.Validate(),
	)
}

// request performs one round-trip: serialize, request, deserialize, and
// surface wire error responses as typed errors.
func (r *requester) request(ctx context.Context, to models.ProcessID, msgType string, payload any) (*envelope.Message, error) {
	message := envelope.NewMessage(payload).
		WithMetadataValue(envelope.KeyMessageID, uuid.NewString()).
		WithMetadataValue(envelope.KeySource, r.config.Name)
	message.Metadata.SetTime(envelope.KeyEventTime, time.Now())

	encoded, err := r.config.MessageRegistry.Serialize(msgType, message)
	if err != nil {
		return nil, err
	}
	data, err := r.config.MessageSerializer.Serialize(encoded)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.RequestTimeout)
		defer cancel()
	}

	resp, err := r.nc.RequestMsgWithContext(ctx, &nats.Msg{
		Subject: processSubject(to),
		Data:    data,
	})
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewBaseError("no response from process %s: %s", to, err).
				WithCode(models.NetworkFailure).
				WithProcessID(to).
				WithRetryable()
		}
		return nil, fmt.Errorf("failed to request %s from %s: %w", msgType, to, err)
	}

	encodedResp, err := r.config.MessageSerializer.Deserialize(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response envelope: %w", err)
	}
	decoded, err := r.config.MessageRegistry.Deserialize(encodedResp)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response message: %w", err)
	}

	if errResp, ok := decoded.Payload.(*messages.ErrorResponse); ok {
		return nil, errResp.ToError()
	}
	return decoded, nil
}
