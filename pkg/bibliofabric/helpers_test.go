package bibliofabric_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utsmok/bibliofabric/pkg/bibliofabric"
)

// testEnvelope unwraps the response shape used throughout these tests:
//
//	{"results": [...], "header": {"total": N, "nextCursor": "..."}}
type testEnvelope struct{}

func (testEnvelope) Results(doc map[string]any) []map[string]any {
	raw, ok := doc["results"].([]any)
	if !ok {
		return nil
	}

	results := make([]map[string]any, 0, len(raw))

	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			results = append(results, m)
		}
	}

	return results
}

func (e testEnvelope) Single(doc map[string]any) (map[string]any, error) {
	results := e.Results(doc)
	if len(results) == 0 {
		return nil, &bibliofabric.FrameworkError{
			Kind:    bibliofabric.KindValidation,
			Message: "response contains no item",
		}
	}

	return results[0], nil
}

func (testEnvelope) NextCursor(doc map[string]any) string {
	header, ok := doc["header"].(map[string]any)
	if !ok {
		return ""
	}

	cursor, _ := header["nextCursor"].(string)

	return cursor
}

func (testEnvelope) Total(doc map[string]any) (int, bool) {
	header, ok := doc["header"].(map[string]any)
	if !ok {
		return 0, false
	}

	total, ok := header["total"].(float64)
	if !ok {
		return 0, false
	}

	return int(total), true
}

// fastSettings returns settings tuned for quick test runs.
func fastSettings() *bibliofabric.Settings {
	settings := bibliofabric.DefaultSettings()
	settings.MaxRetries = 0
	settings.BackoffFactor = time.Millisecond
	settings.RetryJitter = false
	settings.DefaultRetryAfter = 10 * time.Millisecond

	return settings
}

// newTestEngine builds an engine against a test server URL.
func newTestEngine(t *testing.T, baseURL string, settings *bibliofabric.Settings) *bibliofabric.Engine {
	t.Helper()

	if settings == nil {
		settings = fastSettings()
	}

	engine, err := bibliofabric.New(baseURL, settings, testEnvelope{}, bibliofabric.NoAuth{})
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

// errorServer pairs a static-response test server with an engine.
type errorServer struct {
	server *httptest.Server
	engine *bibliofabric.Engine
}

func (s *errorServer) close() {
	s.server.Close()
}

// newErrorServer builds a server that always responds with the given status
// and body, and an engine pointed at it.
func newErrorServer(t *testing.T, status int, body string) *errorServer {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(status)
		_, _ = writer.Write([]byte(body))
	}))

	return &errorServer{
		server: server,
		engine: newTestEngine(t, server.URL, nil),
	}
}
