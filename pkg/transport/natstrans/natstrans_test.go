//go:build unit || !integration

package natstrans_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/suite"

	"github.com/refmesh/refmesh/pkg/logger"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
	"github.com/refmesh/refmesh/pkg/transport"
	"github.com/refmesh/refmesh/pkg/transport/natstrans"
)

// echoEndpoint answers protocol requests with canned responses, recording
// what it saw.
type echoEndpoint struct {
	registered []messages.RegisterOwnerRequest
	increments []messages.IncrementRequest
	received   []messages.ReceiveReference
	getErr     error
}

func (e *echoEndpoint) RegisterOwner(ctx context.Context, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error) {
	e.registered = append(e.registered, request)
	return messages.RegisterOwnerResponse{ObjectID: request.ObjectID, Status: models.ObjectStatuses.AVAILABLE}, nil
}

func (e *echoEndpoint) Increment(ctx context.Context, request messages.IncrementRequest) (messages.RefCountResponse, error) {
	e.increments = append(e.increments, request)
	return messages.RefCountResponse{ObjectID: request.ObjectID, Status: models.ObjectStatuses.AVAILABLE, RefCount: 2}, nil
}

func (e *echoEndpoint) Decrement(ctx context.Context, request messages.DecrementRequest) (messages.RefCountResponse, error) {
	return messages.RefCountResponse{ObjectID: request.ObjectID, RefCount: 1}, nil
}

func (e *echoEndpoint) ReceiveReference(ctx context.Context, request messages.ReceiveReference) error {
	e.received = append(e.received, request)
	return nil
}

func (e *echoEndpoint) CheckReachability(ctx context.Context, request messages.ReachabilityRequest) (messages.ReachabilityReport, error) {
	return messages.ReachabilityReport{ObjectID: request.ObjectID, HasLiveBranch: true}, nil
}

func (e *echoEndpoint) GetObject(ctx context.Context, request messages.GetObjectRequest) (messages.GetObjectResponse, error) {
	if e.getErr != nil {
		return messages.GetObjectResponse{}, e.getErr
	}
	return messages.GetObjectResponse{
		ObjectID: request.ObjectID,
		Status:   models.ObjectStatuses.AVAILABLE,
		Payload:  []byte("payload"),
	}, nil
}

var _ transport.RefEndpoint = (*echoEndpoint)(nil)

type NATSTransportSuite struct {
	suite.Suite
	ctx      context.Context
	natsServ *natstrans.ServerManager
	client   *natstrans.ClientManager

	serverID models.ProcessID
	clientID models.ProcessID
	endpoint *echoEndpoint
	serveT   *natstrans.NATSTransport
	callT    *natstrans.NATSTransport
}

func TestNATSTransportSuite(t *testing.T) {
	suite.Run(t, new(NATSTransportSuite))
}

func (s *NATSTransportSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.ctx = context.Background()

	var err error
	s.natsServ, err = natstrans.NewServerManager(s.ctx, natstrans.ServerManagerParams{
		Options: &server.Options{
			Port:       server.RANDOM_PORT,
			ServerName: "test-server",
		},
	})
	s.Require().NoError(err)

	s.client, err = natstrans.NewClientManager(s.ctx, s.natsServ.Server.ClientURL())
	s.Require().NoError(err)

	s.serverID = models.NewProcessID()
	s.clientID = models.NewProcessID()
	s.endpoint = &echoEndpoint{}

	s.serveT, err = natstrans.NewNATSTransport(natstrans.NATSTransportParams{
		Conn: s.client.Client,
		Name: s.serverID.String(),
	})
	s.Require().NoError(err)
	s.Require().NoError(s.serveT.Listen(s.ctx, models.ProcessInfo{ID: s.serverID}, s.endpoint))

	s.callT, err = natstrans.NewNATSTransport(natstrans.NATSTransportParams{
		Conn:           s.client.Client,
		Name:           s.clientID.String(),
		RequestTimeout: 2 * time.Second,
	})
	s.Require().NoError(err)
}

func (s *NATSTransportSuite) TearDownTest() {
	if s.serveT != nil {
		s.Require().NoError(s.serveT.Close(s.ctx))
	}
	if s.client != nil {
		s.client.Stop()
	}
	if s.natsServ != nil {
		s.natsServ.Stop()
	}
}

func (s *NATSTransportSuite) TestRegisterOwnerRoundTrip() {
	id := models.NewObjectID()
	resp, err := s.callT.Caller().RegisterOwner(s.ctx, s.serverID, messages.RegisterOwnerRequest{
		ObjectID: id,
		Creator:  s.clientID,
		Payload:  []byte("data"),
	})
	s.Require().NoError(err)
	s.Require().Equal(id, resp.ObjectID)
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, resp.Status)
	s.Require().Len(s.endpoint.registered, 1)
	s.Require().Equal([]byte("data"), s.endpoint.registered[0].Payload)
}

func (s *NATSTransportSuite) TestIncrementRoundTrip() {
	id := models.NewObjectID()
	resp, err := s.callT.Caller().Increment(s.ctx, s.serverID, messages.IncrementRequest{
		ObjectID: id,
		Sender:   s.clientID,
		Sequence: 7,
	})
	s.Require().NoError(err)
	s.Require().EqualValues(2, resp.RefCount)
	s.Require().Len(s.endpoint.increments, 1)
	s.Require().EqualValues(7, s.endpoint.increments[0].Sequence)
}

func (s *NATSTransportSuite) TestForwardReference() {
	id := models.NewObjectID()
	err := s.callT.Caller().ForwardReference(s.ctx, s.serverID, messages.ReceiveReference{
		ObjectID: id,
		Owner:    s.serverID,
		From:     s.clientID,
	})
	s.Require().NoError(err)
	s.Require().Len(s.endpoint.received, 1)
	s.Require().Equal(s.clientID, s.endpoint.received[0].From)
}

func (s *NATSTransportSuite) TestCheckReachability() {
	id := models.NewObjectID()
	report, err := s.callT.Caller().CheckReachability(s.ctx, s.serverID, messages.ReachabilityRequest{
		ObjectID: id,
		Owner:    s.serverID,
	})
	s.Require().NoError(err)
	s.Require().True(report.HasLiveBranch)
}

func (s *NATSTransportSuite) TestTypedErrorsCrossTheWire() {
	id := models.NewObjectID()
	s.endpoint.getErr = models.NewErrReclaimed(id)

	_, err := s.callT.Caller().GetObject(s.ctx, s.serverID, messages.GetObjectRequest{
		ObjectID: id,
		Sender:   s.clientID,
	})
	s.Require().Error(err)
	s.Require().True(models.HasErrorCode(err, models.ReclaimedError),
		"error codes must survive serialization, got: %v", err)
}

// pinningEndpoint mirrors an owner that pins contained references during
// registration: handling RegisterOwner issues a count update addressed to
// its own process through the same transport.
type pinningEndpoint struct {
	echoEndpoint
	trans *natstrans.NATSTransport
	self  models.ProcessID
}

func (e *pinningEndpoint) RegisterOwner(ctx context.Context, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error) {
	for i, inner := range request.Contained {
		_, err := e.trans.Caller().Increment(ctx, e.self, messages.IncrementRequest{
			ObjectID: inner.ID,
			Sender:   e.self,
			Sequence: uint64(i + 1),
		})
		if err != nil {
			return messages.RegisterOwnerResponse{}, err
		}
	}
	return e.echoEndpoint.RegisterOwner(ctx, request)
}

func (s *NATSTransportSuite) TestHandlerCanCallItsOwnProcess() {
	ownerID := models.NewProcessID()
	endpoint := &pinningEndpoint{self: ownerID}

	trans, err := natstrans.NewNATSTransport(natstrans.NATSTransportParams{
		Conn:           s.client.Client,
		Name:           ownerID.String(),
		RequestTimeout: 2 * time.Second,
	})
	s.Require().NoError(err)
	endpoint.trans = trans
	s.Require().NoError(trans.Listen(s.ctx, models.ProcessInfo{ID: ownerID}, endpoint))
	defer trans.Close(s.ctx)

	inner := models.ObjectRef{ID: models.NewObjectID(), Owner: ownerID}
	resp, err := s.callT.Caller().RegisterOwner(s.ctx, ownerID, messages.RegisterOwnerRequest{
		ObjectID:  models.NewObjectID(),
		Creator:   s.clientID,
		Contained: []models.ObjectRef{inner},
	})
	s.Require().NoError(err, "a self-addressed request inside a handler must not block on the wire")
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, resp.Status)
	s.Require().Len(endpoint.increments, 1)
	s.Require().Equal(inner.ID, endpoint.increments[0].ObjectID)
}

func (s *NATSTransportSuite) TestUnknownProcessIsNetworkFailure() {
	_, err := s.callT.Caller().Increment(s.ctx, models.NewProcessID(), messages.IncrementRequest{
		ObjectID: models.NewObjectID(),
		Sender:   s.clientID,
		Sequence: 1,
	})
	s.Require().Error(err)
	s.Require().True(models.HasErrorCode(err, models.NetworkFailure))
	s.Require().True(models.IsRetryable(err))
}
