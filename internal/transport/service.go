package transport

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName        = "search.v1.SearchService"
	searchStreamMethod = "/" + serviceName + "/SearchStream"
)

// SearchServer is the server side of the search service.
type SearchServer interface {
	SearchStream(req *SearchRequest, stream SearchStreamSender) error
}

// SearchStreamSender sends response messages of one server stream.
type SearchStreamSender interface {
	Send(resp *SearchStreamResponse) error
	Context() context.Context
}

// RegisterSearchServer registers srv on a gRPC server.
func RegisterSearchServer(s grpc.ServiceRegistrar, srv SearchServer) {
	s.RegisterService(&searchServiceDesc, srv)
}

var searchStreamDesc = grpc.StreamDesc{
	StreamName:    "SearchStream",
	Handler:       searchStreamHandler,
	ServerStreams: true,
}

var searchServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SearchServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams:     []grpc.StreamDesc{searchStreamDesc},
	Metadata:    "search/v1/search.proto",
}

func searchStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(SearchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SearchServer).SearchStream(req, &searchStreamServer{stream})
}

type searchStreamServer struct {
	grpc.ServerStream
}

func (s *searchStreamServer) Send(resp *SearchStreamResponse) error {
	return s.ServerStream.SendMsg(resp)
}
