package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RemoteError is a failure reported by the search service.
type RemoteError struct {
	Code    codes.Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// GRPCTransport runs searches over a single shared gRPC connection. gRPC
// multiplexes the concurrent streams on it; nothing reconfigures the
// connection after construction.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	logger log.Logger

	// mu orders wg.Add in SearchStream against the Wait in Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Dial connects to the search service at target.
func Dial(target string, logger log.Logger, opts ...grpc.DialOption) (*GRPCTransport, error) {
	opts = append([]grpc.DialOption{grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName))}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial search service %s", target)
	}
	return NewGRPCTransport(conn, logger), nil
}

// NewGRPCTransport wraps an existing connection. Close closes conn.
func NewGRPCTransport(conn *grpc.ClientConn, logger log.Logger) *GRPCTransport {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &GRPCTransport{conn: conn, logger: logger}
}

// SearchStream opens the stream and sends the request. Rows are received on a
// goroutine owned by the stream.
func (t *GRPCTransport) SearchStream(ctx context.Context, req SearchRequest, obs Observer) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	stream, err := t.open(ctx, req)
	if err != nil {
		t.wg.Done()
		return err
	}
	go t.receive(stream, req, obs)
	return nil
}

func (t *GRPCTransport) open(ctx context.Context, req SearchRequest) (grpc.ClientStream, error) {
	stream, err := t.conn.NewStream(ctx, &searchStreamDesc, searchStreamMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, errors.Wrap(convertError(err), "open search stream")
	}
	// io.EOF from SendMsg means the server already ended the stream; the
	// status is picked up by RecvMsg in receive.
	if err := stream.SendMsg(&req); err != nil && err != io.EOF {
		return nil, errors.Wrap(convertError(err), "send search request")
	}
	if err := stream.CloseSend(); err != nil {
		return nil, errors.Wrap(convertError(err), "close search request")
	}
	return stream, nil
}

func (t *GRPCTransport) receive(stream grpc.ClientStream, req SearchRequest, obs Observer) {
	defer t.wg.Done()

	obs.OnStart()
	messages := 0
	for {
		resp := new(SearchStreamResponse)
		err := stream.RecvMsg(resp)
		if err == io.EOF {
			level.Debug(t.logger).Log("msg", "search stream completed", "account", req.AccountID, "messages", messages)
			obs.OnComplete()
			return
		}
		if err != nil {
			level.Debug(t.logger).Log("msg", "search stream failed", "account", req.AccountID, "messages", messages, "err", err)
			obs.OnError(convertError(err))
			return
		}
		messages++
		for _, row := range resp.Results {
			obs.OnRow(row)
		}
	}
}

// Close rejects new streams, closes the connection and waits for the receive
// goroutines to deliver their terminal events.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// convertError maps gRPC statuses to RemoteError, keeping cancellation
// recognisable through errors.Is.
func convertError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	default:
		return &RemoteError{Code: st.Code(), Message: st.Message()}
	}
}
