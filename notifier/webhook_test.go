package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aegistrust/proxy/breakglass"
)

func TestWebhookNotifierDeliversPayload(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhookNotifier() = %v", err)
	}
	event := &breakglass.Event{ID: "abc123", Trigger: breakglass.TriggerScopeViolation}
	if err := n.NotifyBreakGlass(context.Background(), "advocate-1", event); err != nil {
		t.Fatalf("NotifyBreakGlass() = %v", err)
	}
	if received.AdvocateID != "advocate-1" || received.Event.ID != "abc123" {
		t.Fatalf("received = %+v", received)
	}
}

func TestWebhookNotifierRejectsEmptyURL(t *testing.T) {
	if _, err := NewWebhookNotifier(WebhookConfig{}); err == nil {
		t.Fatal("expected an error for an empty URL")
	}
}

func TestWebhookNotifierFailsOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxRetries: 1, RetryDelaySeconds: 1})
	if err != nil {
		t.Fatalf("NewWebhookNotifier() = %v", err)
	}
	if err := n.NotifyBreakGlass(context.Background(), "advocate-1", &breakglass.Event{ID: "x"}); err == nil {
		t.Fatal("expected an error on 400 response")
	}
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	m := NewMultiNotifier(failingNotifier{}, NoopNotifier{}, nil)
	if err := m.NotifyBreakGlass(context.Background(), "advocate-1", &breakglass.Event{ID: "x"}); err == nil {
		t.Fatal("expected a joined error when one delegate fails")
	}
}

type failingNotifier struct{}

func (failingNotifier) NotifyBreakGlass(_ context.Context, _ string, _ *breakglass.Event) error {
	return errors.New("delivery failed")
}
