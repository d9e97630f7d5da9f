package searchsvc

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go-report-pipeline/internal/transport"
)

// Server implements transport.SearchServer from a Fixture.
type Server struct {
	fixture *Fixture
	logger  log.Logger
}

// NewServer returns a server for f.
func NewServer(f *Fixture, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{fixture: f, logger: logger}
}

// NewGRPCServer returns a gRPC server with srv registered.
func NewGRPCServer(srv transport.SearchServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	transport.RegisterSearchServer(s, srv)
	return s
}

// SearchStream sends the account's rows in pages, then ends the stream with
// the injected failure, if any.
func (s *Server) SearchStream(req *transport.SearchRequest, stream transport.SearchStreamSender) error {
	logger := log.With(s.logger, "account", req.AccountID, "query", req.Query)
	if req.Query == "" {
		return status.Error(codes.InvalidArgument, "QUERY_ERROR: empty query")
	}
	fs, ok := s.fixture.lookup(req.AccountID, req.Query)
	if !ok {
		level.Warn(logger).Log("msg", "unknown account")
		return status.Errorf(codes.PermissionDenied, "CUSTOMER_NOT_FOUND: %s", req.AccountID)
	}

	rows := fs.rows(req.AccountID)
	limit := len(rows)
	if fs.Failure != nil && fs.Failure.After < limit {
		limit = fs.Failure.After
	}

	sent := 0
	for sent < limit {
		end := sent + s.fixture.PageSize
		if end > limit {
			end = limit
		}
		if sent > 0 && s.fixture.PageDelay > 0 {
			select {
			case <-time.After(s.fixture.PageDelay):
			case <-stream.Context().Done():
				return status.FromContextError(stream.Context().Err()).Err()
			}
		}
		if err := stream.Send(&transport.SearchStreamResponse{Results: rows[sent:end]}); err != nil {
			return err
		}
		sent = end
	}

	if fs.Failure != nil {
		code, _ := fs.Failure.StatusCode()
		level.Debug(logger).Log("msg", "injecting failure", "rows", sent, "code", code, "message", fs.Failure.Message)
		return status.Error(code, fs.Failure.Message)
	}
	level.Debug(logger).Log("msg", "stream served", "rows", sent)
	return nil
}
