package apihost

import (
	"context"
	"sync"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "go.gazette.dev/core/broker/protocol"
)

// connCacheSize bounds the number of live per-service connections held open
// at once, mirroring the bounded sniCache in go/network/frontend.go.
const connCacheSize = 256

// GRPCClient dials the host over gRPC, forwarding opaque request/response
// bytes via rawCodec. One connection is dialed per (service) and cached;
// Enable/Disable gate whether new calls may be dispatched at all, grounded on
// the connectorProxy.runtimes map and semaphore gating in
// go/runtime/connector_proxy.go.
type GRPCClient struct {
	target pb.Endpoint // Host address, e.g. "unix:///tmp/apihostd.sock" or "host:port".

	mu       sync.Mutex
	disabled bool
	conns    *lru.Cache[string, *grpc.ClientConn]
}

// NewGRPCClient dials lazily per-service against target, reusing pb.Endpoint
// as the address type the same way FlowConsumerConfig and connectorProxy type
// their endpoints.
func NewGRPCClient(target pb.Endpoint) (*GRPCClient, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	var conns, err = lru.NewWithEvict[string, *grpc.ClientConn](connCacheSize, func(_ string, conn *grpc.ClientConn) {
		_ = conn.Close()
	})
	if err != nil {
		return nil, err
	}
	return &GRPCClient{target: target, conns: conns}, nil
}

func (c *GRPCClient) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = true
}

func (c *GRPCClient) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = false
}

func (c *GRPCClient) connFor(service string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return nil, &Failure{Status: Unavailable, Detail: "apihost client is disabled"}
	}
	if conn, ok := c.conns.Get(service); ok {
		return conn, nil
	}

	var conn, err = grpc.NewClient(string(c.target),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	)
	if err != nil {
		return nil, err
	}
	c.conns.Add(service, conn)
	return conn, nil
}

// Call issues req over gRPC and invokes callback exactly once, classifying
// any transport error per the taxonomy of §7 (classifyStatus below).
func (c *GRPCClient) Call(callCtx CallContext, req Request, callback Callback) error {
	var conn, err = c.connFor(req.Service)
	if err != nil {
		if f, ok := err.(*Failure); ok {
			callback(nil, f)
			return nil
		}
		return err
	}

	var ctx = callCtx.Context()
	var method = "/apihost." + req.Service + "/" + req.Method

	go func() {
		var reply rawMessage
		var callErr = conn.Invoke(ctx, method, rawMessage(req.RequestBytes), &reply)
		if callErr == nil {
			callback(&Success{ResponseBytes: reply}, nil)
			return
		}
		callback(nil, classifyStatus(req, callErr))
	}()
	return nil
}

// classifyStatus maps a gRPC transport error to the host-call Failure
// taxonomy (§4.2, §7): context cancellation/deadline map directly, and the
// gRPC codes InvalidArgument, FailedPrecondition, AlreadyExists and NotFound
// map to ApplicationError. The status Details are not read, so
// ApplicationErrorCode is always left 0 (grounded on the
// grpc_prometheus-wrapped unary interceptor pattern in go/bindings's
// task_service.go).
func classifyStatus(req Request, err error) *Failure {
	if err == context.Canceled {
		return &Failure{Status: Cancelled, Detail: "call was cancelled", Cause: err}
	}
	if err == context.DeadlineExceeded {
		return &Failure{Status: DeadlineExceeded, Detail: "call exceeded its deadline", Cause: err}
	}

	var st, ok = status.FromError(err)
	if !ok {
		return &Failure{Status: Internal, Detail: err.Error(), Cause: err}
	}

	switch st.Code() {
	case codes.OK:
		return nil
	case codes.Canceled:
		return &Failure{Status: Cancelled, Detail: st.Message(), Cause: err}
	case codes.DeadlineExceeded:
		return &Failure{Status: DeadlineExceeded, Detail: st.Message(), Cause: err}
	case codes.Unavailable, codes.Unimplemented, codes.Unknown:
		return &Failure{Status: Unavailable, Detail: st.Message(), Cause: err}
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists, codes.NotFound:
		return &Failure{Status: ApplicationError, Detail: st.Message(), Cause: err}
	default:
		logrus.WithFields(logrus.Fields{
			"service": req.Service, "method": req.Method, "code": st.Code(),
		}).Warn("apihost: unclassified gRPC status, mapping to INTERNAL")
		return &Failure{Status: Internal, Detail: st.Message(), Cause: err}
	}
}

var _ Client = (*GRPCClient)(nil)
