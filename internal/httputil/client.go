// Package httputil wraps outbound HTTP behind a small interface so the
// station API and the deploy tool's health probes can be tested without a
// network, and collects the JSON response helpers shared by API handlers.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the outbound HTTP surface used by handlers that call other
// services. StandardClient satisfies it in production; MockHTTPClient in
// tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
	Get(url string) (*http.Response, error)
	Post(url, contentType string, body io.Reader) (*http.Response, error)
}

// StandardClient adapts *http.Client to HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, falling back to http.DefaultClient when nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

func (c *StandardClient) Get(url string) (*http.Response, error) {
	return c.Client.Get(url)
}

func (c *StandardClient) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	return c.Client.Post(url, contentType, body)
}

// canned is one queued reply for MockHTTPClient.
type canned struct {
	status int
	body   string
	err    error
}

// MockHTTPClient replays a queue of canned responses and records every
// request it sees. When the queue runs dry it answers 200 with an empty
// body, so probes that only care about reachability need no setup.
type MockHTTPClient struct {
	// DefaultError, when set, fails every request up front. It models a
	// station that cannot be reached at all.
	DefaultError error

	mu       sync.Mutex
	queue    []canned
	recorded []*http.Request
}

// NewMockHTTPClient returns an empty mock ready for AddResponse calls.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a reply with the given status and body.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, canned{status: status, body: body})
	return m
}

// AddErrorResponse queues a transport-level failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, canned{err: err})
	return m
}

// Do records the request and pops the next queued reply.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recorded = append(m.recorded, req)

	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	reply := canned{status: http.StatusOK}
	if len(m.queue) > 0 {
		reply = m.queue[0]
		m.queue = m.queue[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}

	return &http.Response{
		StatusCode: reply.status,
		Body:       io.NopCloser(bytes.NewBufferString(reply.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (m *MockHTTPClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return m.Do(req)
}

func (m *MockHTTPClient) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return m.Do(req)
}

// GetRequest returns the nth recorded request, or nil when out of range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.recorded) {
		return nil
	}
	return m.recorded[n]
}

// RequestCount reports how many requests the mock has seen.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}
