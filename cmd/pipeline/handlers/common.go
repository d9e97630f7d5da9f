// Package handlers runs the CLI commands. The commands package only binds
// flags; everything with side effects lives here.
package handlers

import (
	"crypto/tls"
	"io"

	"github.com/go-kit/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"go-report-pipeline/internal/config"
	"go-report-pipeline/internal/transport"
	"go-report-pipeline/pkg/logging"
)

// searchTransport is the transport the commands own and close.
type searchTransport interface {
	transport.Transport
	io.Closer
}

// Factory function variables - can be replaced in tests.
var (
	// dialSearch connects to the search service.
	dialSearch = func(cfg config.SearchConfig, logger log.Logger) (searchTransport, error) {
		creds := insecure.NewCredentials()
		if !cfg.Insecure {
			creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		}
		return transport.Dial(cfg.Endpoint, logger,
			grpc.WithTransportCredentials(creds),
			grpc.WithConnectParams(grpc.ConnectParams{
				Backoff:           backoff.DefaultConfig,
				MinConnectTimeout: cfg.DialTimeout,
			}),
		)
	}

	// logOutput receives the structured logs.
	logOutput io.Writer
)

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func newLogger(cfg config.LoggingConfig, lvl, format string) (log.Logger, error) {
	if lvl == "" {
		lvl = cfg.Level
	}
	if format == "" {
		format = cfg.Format
	}
	if logOutput != nil {
		return logging.New(logOutput, format, lvl)
	}
	return logging.NewStderr(format, lvl)
}
