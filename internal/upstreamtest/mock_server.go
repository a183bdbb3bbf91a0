// Package upstreamtest provides a scripted mock of the upstream internal
// API for tests: the unary and SSE generate endpoints, quota discovery,
// and the OAuth token exchange.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines one scripted response.
type MockResponse struct {
	StatusCode   int
	Body         any
	RawBody      string
	Delay        time.Duration
	Headers      map[string]string
	StreamChunks []string // data: payloads for the SSE endpoint
}

// MockServer simulates the upstream internal API. Responses are scripted
// per path suffix; unmatched paths return 404.
type MockServer struct {
	server       *httptest.Server
	responses    map[string]MockResponse
	requestCount map[string]int
	mu           sync.Mutex
}

// NewMockServer creates a mock with a default token-exchange response.
func NewMockServer() *MockServer {
	ms := &MockServer{
		responses:    make(map[string]MockResponse),
		requestCount: make(map[string]int),
	}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))

	// Token exchange succeeds by default so client tests only script the
	// operational endpoints.
	ms.SetResponse("/token", MockResponse{
		StatusCode: http.StatusOK,
		Body: map[string]any{
			"access_token": "test-access-token",
			"expires_in":   3600,
			"token_type":   "Bearer",
		},
	})
	return ms
}

// URL returns the mock server's base URL.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close shuts the server down.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// SetResponse scripts the response for a path suffix (e.g.
// ":generateContent").
func (ms *MockServer) SetResponse(pathSuffix string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[pathSuffix] = response
}

// RequestCount returns how many requests hit a path suffix.
func (ms *MockServer) RequestCount(pathSuffix string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.requestCount[pathSuffix]
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	ms.mu.Lock()
	var resp MockResponse
	var found bool
	var matched string
	// Longest match wins so ":generateContent" does not shadow
	// ":streamGenerateContent".
	for suffix, scripted := range ms.responses {
		if !strings.Contains(r.URL.Path, suffix) {
			continue
		}
		if !found || len(suffix) > len(matched) {
			resp = scripted
			matched = suffix
			found = true
		}
	}
	if found {
		ms.requestCount[matched]++
	}
	ms.mu.Unlock()

	if !found {
		http.NotFound(w, r)
		return
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	if len(resp.StreamChunks) > 0 {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, chunk := range resp.StreamChunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
		return
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if resp.RawBody != "" {
		fmt.Fprint(w, resp.RawBody)
		return
	}
	if resp.Body != nil {
		_ = json.NewEncoder(w).Encode(resp.Body)
	}
}
