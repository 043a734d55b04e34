// Package testutil provides shared test helpers for NudgePipe: a mock chat
// transport, a manual clock and HTTP assertion helpers.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the API envelope and checks its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field")
	} else if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// CreateHTTPRequest builds a request with an optional JSON body.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals v or fails the test.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals data into target or fails the test.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// FixedClock is a manually advanced clock. Pass its Now method wherever a
// func() time.Time is accepted.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// SentMessage is one message captured by MockService.
type SentMessage struct {
	To   string
	Body string
}

// MockService is an in-memory chat transport. Recipients must be non-empty
// and are used as given.
type MockService struct {
	mu        sync.Mutex
	sent      []SentMessage
	err       error
	stopped   bool
	receipts  chan models.Receipt
	responses chan models.Response
}

func NewMockService() *MockService {
	return &MockService{
		receipts:  make(chan models.Receipt, 100),
		responses: make(chan models.Response, 100),
	}
}

// FailWith makes subsequent sends return err; nil restores success.
func (m *MockService) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", errors.New("recipient cannot be empty")
	}
	return r, nil
}

func (m *MockService) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.receipts)
		close(m.responses)
	}
	return nil
}

func (m *MockService) Receipts() <-chan models.Receipt   { return m.receipts }
func (m *MockService) Responses() <-chan models.Response { return m.responses }

// Inject queues an inbound message as if the transport received it.
func (m *MockService) Inject(resp models.Response) {
	m.responses <- resp
}

// Sent returns a copy of the messages sent so far.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Last returns the most recent message, or the zero value.
func (m *MockService) Last() SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}
	}
	return m.sent[len(m.sent)-1]
}
