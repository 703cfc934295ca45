// Package natstrans carries the reference-count protocol over NATS
// request/reply. Each process answers on its own subject; callers address
// messages by ProcessID.
package natstrans

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/refmesh/refmesh/pkg/lib/envelope"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
	"github.com/refmesh/refmesh/pkg/transport"
)

type NATSTransportParams struct {
	Conn           *nats.Conn
	Name           string
	RequestTimeout time.Duration
}

type NATSTransport struct {
	conn      *nats.Conn
	name      string
	registry  *envelope.Registry
	requester *requester
	responder *responder
	timeout   time.Duration

	mu       sync.RWMutex
	self     models.ProcessID
	endpoint transport.RefEndpoint
}

// NewNATSTransport builds a transport over an existing NATS connection.
func NewNATSTransport(params NATSTransportParams) (*NATSTransport, error) {
	registry := envelope.NewRegistry()
	for name, prototype := range map[string]any{
		messages.RegisterOwnerRequestType:  messages.RegisterOwnerRequest{},
		messages.RegisterOwnerResponseType: messages.RegisterOwnerResponse{},
		messages.IncrementRequestType:      messages.IncrementRequest{},
		messages.DecrementRequestType:      messages.DecrementRequest{},
		messages.RefCountResponseType:      messages.RefCountResponse{},
		messages.ReceiveReferenceType:      messages.ReceiveReference{},
		messages.ReachabilityRequestType:   messages.ReachabilityRequest{},
		messages.ReachabilityReportType:    messages.ReachabilityReport{},
		messages.GetObjectRequestType:      messages.GetObjectRequest{},
		messages.GetObjectResponseType:     messages.GetObjectResponse{},
		messages.ErrorResponseType:         messages.ErrorResponse{},
	} {
		if err := registry.Register(name, prototype); err != nil {
			return nil, err
		}
	}

	req, err := NewRequester(params.Conn, RequesterConfig{
		Name:            params.Name,
		MessageRegistry: registry,
		RequestTimeout:  params.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &NATSTransport{
		conn:      params.Conn,
		name:      params.Name,
		registry:  registry,
		requester: req,
		timeout:   params.RequestTimeout,
	}, nil
}

func (t *NATSTransport) Listen(ctx context.Context, self models.ProcessInfo, endpoint transport.RefEndpoint) error {
	t.mu.Lock()
	t.self = self.ID
	t.endpoint = endpoint
	t.mu.Unlock()

	resp, err := NewResponder(t.conn, ResponderConfig{
		Name:            self.ID.String(),
		Subject:         processSubject(self.ID),
		MessageRegistry: t.registry,
	})
	if err != nil {
		return err
	}
	t.responder = resp

	handlers := map[string]RequestHandler{
		messages.RegisterOwnerRequestType: func(ctx context.Context, msg *envelope.Message) (string, any, error) {
			request, ok := msg.Payload.(*messages.RegisterOwnerRequest)
			if !ok {
				return "", nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
			}
			response, err := endpoint.RegisterOwner(ctx, *request)
			return messages.RegisterOwnerResponseType, response, err
		},
		messages.IncrementRequestType: func(ctx context.Context, msg *envelope.Message) (string, any, error) {
			request, ok := msg.Payload.(*messages.IncrementRequest)
			if !ok {
				return "", nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
			}
			response, err := endpoint.Increment(ctx, *request)
			return messages.RefCountResponseType, response, err
		},
		messages.DecrementRequestType: func(ctx context.Context, msg *envelope.Message) (string, any, error) {
			request, ok := msg.Payload.(*messages.DecrementRequest)
			if !ok {
				return "", nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
			}
			response, err := endpoint.Decrement(ctx, *request)
			return messages.RefCountResponseType, response, err
		},
		messages.ReceiveReferenceType: func(ctx context.Context, msg *envelope.Message) (string, any, error) {
			request, ok := msg.Payload.(*messages.ReceiveReference)
			if !ok {
				return "", nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
			}
			err := endpoint.ReceiveReference(ctx, *request)
			return messages.RefCountResponseType, messages.RefCountResponse{ObjectID: request.ObjectID}, err
		},
		messages.ReachabilityRequestType: func(ctx context.Context, msg *envelope.Message) (string, any, error) {
			request, ok := msg.Payload.(*messages.ReachabilityRequest)
			if !ok {
				return "", nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
			}
			report, err := endpoint.CheckReachability(ctx, *request)
			return messages.ReachabilityReportType, report, err
		},
		messages.GetObjectRequestType: func(ctx context.Context, msg *envelope.Message) (string, any, error) {
			request, ok := msg.Payload.(*messages.GetObjectRequest)
			if !ok {
				return "", nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
			}
			response, err := endpoint.GetObject(ctx, *request)
			return messages.GetObjectResponseType, response, err
		},
	}

	for msgType, handler := range handlers {
		if err := resp.Listen(ctx, msgType, handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *NATSTransport) Caller() transport.RefCaller {
	return t
}

func (t *NATSTransport) Close(ctx context.Context) error {
	if t.responder != nil {
		return t.responder.Close(ctx)
	}
	return nil
}

// loopback returns the local endpoint for self-addressed requests. A
// request published to our own subject would queue behind the subscription
// goroutine issuing it and could only time out, so self traffic never
// touches the wire.
func (t *NATSTransport) loopback(to models.ProcessID) (transport.RefEndpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.endpoint == nil || to != t.self {
		return nil, false
	}
	return t.endpoint, true
}

func (t *NATSTransport) RegisterOwner(ctx context.Context, to models.ProcessID, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error) {
	if local, ok := t.loopback(to); ok {
		return local.RegisterOwner(ctx, request)
	}
	msg, err := t.requester.request(ctx, to, messages.RegisterOwnerRequestType, request)
	if err != nil {
		return messages.RegisterOwnerResponse{}, err
	}
	response, ok := msg.Payload.(*messages.RegisterOwnerResponse)
	if !ok {
		return messages.RegisterOwnerResponse{}, fmt.Errorf("unexpected response type %T", msg.Payload)
	}
	return *response, nil
}

func (t *NATSTransport) Increment(ctx context.Context, to models.ProcessID, request messages.IncrementRequest) (messages.RefCountResponse, error) {
	if local, ok := t.loopback(to); ok {
		return local.Increment(ctx, request)
	}
	return t.refCountRequest(ctx, to, messages.IncrementRequestType, request)
}

func (t *NATSTransport) Decrement(ctx context.Context, to models.ProcessID, request messages.DecrementRequest) (messages.RefCountResponse, error) {
	if local, ok := t.loopback(to); ok {
		return local.Decrement(ctx, request)
	}
	return t.refCountRequest(ctx, to, messages.DecrementRequestType, request)
}

func (t *NATSTransport) ForwardReference(ctx context.Context, to models.ProcessID, request messages.ReceiveReference) error {
	if local, ok := t.loopback(to); ok {
		return local.ReceiveReference(ctx, request)
	}
	_, err := t.requester.request(ctx, to, messages.ReceiveReferenceType, request)
	return err
}

func (t *NATSTransport) CheckReachability(ctx context.Context, to models.ProcessID, request messages.ReachabilityRequest) (messages.ReachabilityReport, error) {
	if local, ok := t.loopback(to); ok {
		return local.CheckReachability(ctx, request)
	}
	msg, err := t.requester.request(ctx, to, messages.ReachabilityRequestType, request)
	if err != nil {
		return messages.ReachabilityReport{}, err
	}
	report, ok := msg.Payload.(*messages.ReachabilityReport)
	if !ok {
		return messages.ReachabilityReport{}, fmt.Errorf("unexpected response type %T", msg.Payload)
	}
	return *report, nil
}

func (t *NATSTransport) GetObject(ctx context.Context, to models.ProcessID, request messages.GetObjectRequest) (messages.GetObjectResponse, error) {
	if local, ok := t.loopback(to); ok {
		return local.GetObject(ctx, request)
	}
	msg, err := t.requester.request(ctx, to, messages.GetObjectRequestType, request)
	if err != nil {
		return messages.GetObjectResponse{}, err
	}
	response, ok := msg.Payload.(*messages.GetObjectResponse)
	if !ok {
		return messages.GetObjectResponse{}, fmt.Errorf("unexpected response type %T", msg.Payload)
	}
	return *response, nil
}

func (t *NATSTransport) refCountRequest(ctx context.Context, to models.ProcessID, msgType string, request any) (messages.RefCountResponse, error) {
	msg, err := t.requester.request(ctx, to, msgType, request)
	if err != nil {
		return messages.RefCountResponse{}, err
	}
	response, ok := msg.Payload.(*messages.RefCountResponse)
	if !ok {
		return messages.RefCountResponse{}, fmt.Errorf("unexpected response type %T", msg.Payload)
	}
	return *response, nil
}

// compile-time interface assertions
var _ transport.Transport = (*NATSTransport)(nil)
var _ transport.RefCaller = (*NATSTransport)(nil)
