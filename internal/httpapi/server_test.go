package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaylabs/chatbridge/internal/bridge"
	"github.com/relaylabs/chatbridge/internal/broker"
	"github.com/relaylabs/chatbridge/internal/ids"
	"github.com/relaylabs/chatbridge/internal/jsoncodec"
	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*message.Message
	err      error
}

func (p *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type staticSource struct {
	transport broker.Transport
}

func (s staticSource) Acquire() (broker.Transport, error) {
	return s.transport, nil
}

type fixture struct {
	server    *Server
	ledger    *bridge.Ledger
	publisher *bridge.Publisher
	recorder  *recordingPublisher
}

func newFixture(origins []string) *fixture {
	recorder := &recordingPublisher{}
	ledger := bridge.NewLedger()
	m := metrics.NewBridge(prometheus.NewRegistry())
	publisher := bridge.NewPublisher(
		staticSource{transport: broker.Transport{Publisher: recorder}},
		ledger,
		"chat_requests",
		logging.Nop(),
		m,
	)
	return &fixture{
		server:    New(publisher, ledger, logging.Nop(), origins),
		ledger:    ledger,
		publisher: publisher,
		recorder:  recorder,
	}
}

func (f *fixture) submit(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) poll(t *testing.T, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/"+token, nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := jsoncodec.Decode(rec.Body, v); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
}

func TestChatScenario(t *testing.T) {
	f := newFixture(nil)

	rec := f.submit(t, `{"message": "What is the capital of France?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var issued struct {
		Token string `json:"token"`
	}
	decodeJSON(t, rec, &issued)
	if issued.Token == "" {
		t.Fatal("expected a token")
	}

	// Immediately after submit the request is still processing.
	var status struct {
		Status string `json:"status"`
	}
	decodeJSON(t, f.poll(t, issued.Token), &status)
	if status.Status != "processing" {
		t.Fatalf("expected processing, got %q", status.Status)
	}

	// Worker publishes a response; the consumer resolves the ledger.
	if !f.ledger.Resolve(issued.Token, "Paris is the capital of France.") {
		t.Fatal("expected resolve to succeed")
	}

	var answer struct {
		Response string `json:"response"`
	}
	decodeJSON(t, f.poll(t, issued.Token), &answer)
	if answer.Response != "Paris is the capital of France." {
		t.Fatalf("unexpected response %q", answer.Response)
	}

	// The entry was consumed; a further poll reports not_found.
	decodeJSON(t, f.poll(t, issued.Token), &status)
	if status.Status != "not_found" {
		t.Fatalf("expected not_found after consumption, got %q", status.Status)
	}
}

func TestPollUnknownToken(t *testing.T) {
	f := newFixture(nil)

	var status struct {
		Status string `json:"status"`
	}
	decodeJSON(t, f.poll(t, ids.NewToken()), &status)
	if status.Status != "not_found" {
		t.Fatalf("expected not_found for never-issued token, got %q", status.Status)
	}
}

func TestSubmitPublishesEnvelope(t *testing.T) {
	f := newFixture(nil)

	rec := f.submit(t, `{"message": "hello"}`)
	var issued struct {
		Token string `json:"token"`
	}
	decodeJSON(t, rec, &issued)

	f.publisher.Wait()

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if len(f.recorder.messages) != 1 {
		t.Fatalf("expected one published message, got %d", len(f.recorder.messages))
	}
	msg := f.recorder.messages[0]
	if bridge.Token(msg) != issued.Token {
		t.Fatalf("expected correlation id %q, got %q", issued.Token, bridge.Token(msg))
	}
	if string(msg.Payload) != "hello" {
		t.Fatalf("unexpected body %q", msg.Payload)
	}
}

func TestSubmitRejectsBadBody(t *testing.T) {
	f := newFixture(nil)

	if rec := f.submit(t, `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
	if rec := f.submit(t, `{"message": ""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}
}

func TestFailedPublishSurfacesAsFailedStatus(t *testing.T) {
	f := newFixture(nil)
	f.recorder.err = context.DeadlineExceeded

	rec := f.submit(t, `{"message": "doomed"}`)
	var issued struct {
		Token string `json:"token"`
	}
	decodeJSON(t, rec, &issued)

	f.publisher.Wait()

	var status struct {
		Status string `json:"status"`
	}
	decodeJSON(t, f.poll(t, issued.Token), &status)
	if status.Status != "failed" {
		t.Fatalf("expected failed status after publish error, got %q", status.Status)
	}
}

func TestCORSHeaders(t *testing.T) {
	f := newFixture([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected origin echoed, got %q", got)
	}

	// A disallowed origin gets no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers for disallowed origin")
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}
}
