// Package transport defines the boundary between the collector and the remote
// search service, and a gRPC implementation of it.
//
// A Transport starts one streaming search per call and pushes the stream's
// events into an Observer. Events for one stream are delivered strictly in
// order and never concurrently; events of different streams are unordered.
package transport

import (
	"context"
	"errors"

	"go-report-pipeline/internal/model"
)

// ErrTransportClosed is returned when a stream is submitted after Close.
var ErrTransportClosed = errors.New("transport is closed")

// SearchRequest is the outbound request of one stream.
type SearchRequest struct {
	AccountID string `json:"account_id"`
	Query     string `json:"query"`
}

// SearchStreamResponse is one message of a search stream. A message may carry
// any number of rows.
type SearchStreamResponse struct {
	Results []model.Row `json:"results"`
}

// Observer receives the events of one stream. OnRow is called zero or more
// times, then exactly one of OnError or OnComplete.
type Observer interface {
	OnStart()
	OnRow(row model.Row)
	OnError(err error)
	OnComplete()
}

// Transport submits streaming searches. SearchStream must not block on the
// stream itself; an error return means the request was never submitted and no
// Observer event will follow.
type Transport interface {
	SearchStream(ctx context.Context, req SearchRequest, obs Observer) error
}
