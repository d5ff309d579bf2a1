// Package server exposes the pipeline as the safetygate.v1.Gate gRPC service.
package server

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/safetygate/internal/detect"
	"github.com/ppiankov/safetygate/internal/identity"
	"github.com/ppiankov/safetygate/internal/model"
)

// Evaluator produces a decision for a request.
type Evaluator interface {
	Dispatch(ctx context.Context, req model.Request) model.Decision
}

// Authenticator turns a bearer token into a verified caller.
type Authenticator interface {
	Verify(token string) (model.Caller, error)
}

// Server implements GateServer.
type Server struct {
	eval       Evaluator
	auth       Authenticator
	log        *zap.Logger
	grpcServer *grpc.Server
}

// envelopeOverhead leaves room for the non-content request fields.
const envelopeOverhead = 64 << 10

// RecvLimit derives the transport message cap from the body limit so that
// oversized content is refused before it is buffered.
func RecvLimit(maxBodyBytes int64) int {
	if maxBodyBytes <= 0 {
		maxBodyBytes = detect.DefaultMaxBodyBytes
	}
	return int(maxBodyBytes) + envelopeOverhead
}

// Option configures a Server.
type Option func(*options)

type options struct {
	maxRecv int
}

// WithMaxRecvMsgSize caps the size of an incoming message in bytes.
func WithMaxRecvMsgSize(n int) Option {
	return func(o *options) { o.maxRecv = n }
}

// New creates a gRPC server. Every call must carry a bearer token in the
// authorization metadata. Messages are capped at RecvLimit of the default
// body limit unless overridden.
func New(eval Evaluator, auth Authenticator, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{maxRecv: RecvLimit(0)}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{eval: eval, auth: auth, log: log}
	s.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(s.authenticate),
		grpc.MaxRecvMsgSize(o.maxRecv),
	)
	RegisterGateServer(s.grpcServer, s)
	return s
}

// Serve listens on addr. Blocks until stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.log.Info("grpc.listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// ServeOn serves on an existing listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) authenticate(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = vals[0]
	}
	token, err := identity.BearerToken(header)
	var caller model.Caller
	if err == nil {
		caller, err = s.auth.Verify(token)
	}
	if err != nil {
		s.log.Warn("grpc.unauthorized", zap.String("method", info.FullMethod), zap.Error(err))
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return handler(identity.WithCaller(ctx, caller), req)
}

// Evaluate implements the Evaluate RPC. Request fields: content (string),
// content_type, session, boundaries (list of strings). A decision is
// always returned; only authentication failures are RPC errors.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, ok := identity.CallerFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	fields := req.GetFields()
	content := fields["content"].GetStringValue()
	contentType := fields["content_type"].GetStringValue()
	if contentType == "" {
		contentType = "text/plain"
	}
	var boundaries []string
	for _, v := range fields["boundaries"].GetListValue().GetValues() {
		if id := v.GetStringValue(); id != "" {
			boundaries = append(boundaries, id)
		}
	}

	dec := s.eval.Dispatch(ctx, model.Request{
		Caller:        caller,
		SessionHint:   fields["session"].GetStringValue(),
		Body:          strings.NewReader(content),
		ContentLength: int64(len(content)),
		ContentType:   contentType,
		Boundaries:    boundaries,
	})

	out, err := DecisionStruct(dec.Public())
	if err != nil {
		return nil, status.Error(codes.Internal, "encode decision")
	}
	return out, nil
}

// DecisionStruct renders a public decision as a Struct.
func DecisionStruct(pd model.PublicDecision) (*structpb.Struct, error) {
	labels := make([]any, len(pd.Labels))
	for i, l := range pd.Labels {
		labels[i] = l
	}
	return structpb.NewStruct(map[string]any{
		"outcome":                 string(pd.Outcome),
		"reason":                  pd.Reason,
		"labels":                  labels,
		"audit_id":                pd.AuditID,
		"developmental_safeguard": pd.SafeguardActive,
		"response":                pd.Response,
	})
}
