package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relaylabs/chatbridge/internal/broker"
)

func TestPublishReturnsTokenAndSends(t *testing.T) {
	recorder := &recordingPublisher{}
	source := &fakeSource{transport: broker.Transport{Publisher: recorder, Subscriber: closedSubscriber{}}}
	ledger := NewLedger()
	m := newTestMetrics()

	publisher := NewPublisher(source, ledger, "chat_requests", nopLogger(), m)

	token, err := publisher.Publish(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	// The entry is pending immediately, before the detached send completes.
	if _, status := ledger.TakeIfReady(token); status != StatusPending {
		t.Fatalf("expected pending entry, got %v", status)
	}

	publisher.Wait()

	sent := recorder.published("chat_requests")
	if len(sent) != 1 {
		t.Fatalf("expected one message on the request queue, got %d", len(sent))
	}
	if got := Token(sent[0]); got != token {
		t.Fatalf("expected correlation id %q, got %q", token, got)
	}
	if string(sent[0].Payload) != "What is the capital of France?" {
		t.Fatalf("unexpected body %q", sent[0].Payload)
	}
	if got := testutil.ToFloat64(m.RequestsPublished); got != 1 {
		t.Fatalf("expected published counter 1, got %v", got)
	}
}

func TestPublishTokensAreUnique(t *testing.T) {
	recorder := &recordingPublisher{}
	source := &fakeSource{transport: broker.Transport{Publisher: recorder, Subscriber: closedSubscriber{}}}
	publisher := NewPublisher(source, NewLedger(), "chat_requests", nopLogger(), newTestMetrics())

	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		token, err := publisher.Publish(context.Background(), "msg")
		if err != nil {
			t.Fatalf("unexpected publish error: %v", err)
		}
		if _, ok := seen[token]; ok {
			t.Fatalf("token %s issued twice", token)
		}
		seen[token] = struct{}{}
	}
	publisher.Wait()
}

func TestPublishBrokerErrorMarksFailed(t *testing.T) {
	recorder := &recordingPublisher{err: errors.New("channel closed")}
	source := &fakeSource{transport: broker.Transport{Publisher: recorder, Subscriber: closedSubscriber{}}}
	ledger := NewLedger()
	m := newTestMetrics()

	publisher := NewPublisher(source, ledger, "chat_requests", nopLogger(), m)

	token, err := publisher.Publish(context.Background(), "msg")
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	publisher.Wait()

	if _, status := ledger.TakeIfReady(token); status != StatusFailed {
		t.Fatalf("expected failed entry after broker error, got %v", status)
	}
	if got := testutil.ToFloat64(m.PublishFailures); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}
}

func TestPublishAcquireErrorMarksFailed(t *testing.T) {
	source := &fakeSource{failures: 1, err: errors.New("broker unreachable")}
	ledger := NewLedger()

	publisher := NewPublisher(source, ledger, "chat_requests", nopLogger(), newTestMetrics())

	token, err := publisher.Publish(context.Background(), "msg")
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	publisher.Wait()

	if _, status := ledger.TakeIfReady(token); status != StatusFailed {
		t.Fatalf("expected failed entry when broker is unreachable, got %v", status)
	}
}
