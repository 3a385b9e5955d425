package bibliofabric

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PreRequestHook is called just before a request attempt is dispatched. The
// request descriptor is mutable: hooks may adjust query parameters and
// headers, but not the method or path. A returned error aborts the request.
type PreRequestHook func(ctx context.Context, req *Request) error

// PostResponseHook is called just after a response is received and
// classified. resp carries the parsed document for successful JSON
// responses; reqErr carries the classification error otherwise. A returned
// error aborts retries and surfaces verbatim.
type PostResponseHook func(ctx context.Context, req *Request, resp *Response, reqErr error) error

// Built-in hooks

// LoggingPreHook logs outbound requests.
func LoggingPreHook(logger Logger) PreRequestHook {
	return func(ctx context.Context, req *Request) error {
		logger.Debug("API Request", map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
		})

		return nil
	}
}

// LoggingPostHook logs received responses.
func LoggingPostHook(logger Logger) PostResponseHook {
	return func(ctx context.Context, req *Request, resp *Response, reqErr error) error {
		fields := map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
		}

		if resp != nil {
			fields["status_code"] = resp.StatusCode
		}

		if reqErr != nil {
			fields["error"] = reqErr.Error()
			logger.Error("API Response Error", fields)
		} else {
			logger.Debug("API Response", fields)
		}

		return nil
	}
}

// HeaderPreHook adds fixed headers to every request.
func HeaderPreHook(headers map[string]string) PreRequestHook {
	return func(ctx context.Context, req *Request) error {
		for key, value := range headers {
			req.Headers.Set(key, value)
		}

		return nil
	}
}

// Metrics aggregates call statistics for one endpoint.
type Metrics struct {
	TotalRequests   int64
	TotalErrors     int64
	TotalLatency    time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time
}

// MetricsCollector collects per-endpoint call metrics. It is safe for
// concurrent use.
type MetricsCollector struct {
	mu       sync.Mutex
	metrics  map[string]*Metrics
	starts   map[*Request]time.Time
	onChange func(endpoint string, metrics *Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metrics),
		starts:  make(map[*Request]time.Time),
	}
}

// SetOnChange sets a callback invoked after each update.
func (m *MetricsCollector) SetOnChange(fn func(endpoint string, metrics *Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onChange = fn
}

// GetMetrics returns a copy of the metrics for an endpoint, or nil.
func (m *MetricsCollector) GetMetrics(endpoint string) *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.metrics[endpoint]
	if !ok {
		return nil
	}

	copied := *metrics

	return &copied
}

// PreHook returns a pre-request hook recording the attempt start time.
func (m *MetricsCollector) PreHook() PreRequestHook {
	return func(ctx context.Context, req *Request) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.starts[req] = time.Now()

		return nil
	}
}

// PostHook returns a post-response hook recording latency and errors.
func (m *MetricsCollector) PostHook() PostResponseHook {
	return func(ctx context.Context, req *Request, resp *Response, reqErr error) error {
		endpoint := fmt.Sprintf("%s %s", req.Method, req.Path)

		m.mu.Lock()

		metrics, ok := m.metrics[endpoint]
		if !ok {
			metrics = &Metrics{}
			m.metrics[endpoint] = metrics
		}

		metrics.TotalRequests++
		metrics.LastRequestTime = time.Now()

		if start, ok := m.starts[req]; ok {
			delete(m.starts, req)

			metrics.TotalLatency += time.Since(start)
			metrics.AverageLatency = metrics.TotalLatency / time.Duration(metrics.TotalRequests)
		}

		if reqErr != nil || (resp != nil && resp.StatusCode >= 400) {
			metrics.TotalErrors++
		}

		onChange := m.onChange
		snapshot := *metrics

		m.mu.Unlock()

		if onChange != nil {
			onChange(endpoint, &snapshot)
		}

		return nil
	}
}
