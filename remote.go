package inventory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RemoteInvoker performs a bounded HTTP call against another service in
// the deployment.
type RemoteInvoker interface {
	Invoke(ctx context.Context, service, path, method string) error
}

type httpInvoker struct {
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	baseURLs map[string]string
	logger   *zap.Logger
}

// NewHTTPInvoker builds an invoker over the given service name to base
// URL mapping. Calls share one circuit breaker; five consecutive
// failures open it.
func NewHTTPInvoker(baseURLs map[string]string, timeout time.Duration, logger *zap.Logger) RemoteInvoker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "remote-invoker",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &httpInvoker{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker:  breaker,
		baseURLs: baseURLs,
		logger:   logger,
	}
}

func (i *httpInvoker) Invoke(ctx context.Context, service, path, method string) error {
	base, ok := i.baseURLs[service]
	if !ok {
		return fmt.Errorf("unknown service: %s", service)
	}

	_, err := i.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, base+path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := i.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to call %s: %w", service, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("%s returned status %s", service, resp.Status)
		}
		return nil, nil
	})
	return err
}
