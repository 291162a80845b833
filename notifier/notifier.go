// Package notifier dispatches break-glass approval requests to an
// advocate. Adapted from the teacher's notification package
// (sns.go/breakglass_notifier.go/webhook.go), collapsed onto the single
// breakglass.Notifier capability this module actually needs instead of
// the teacher's separate Notifier/BreakGlassNotifier interface pair.
package notifier

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aegistrust/proxy/breakglass"
)

// Payload is the JSON shape delivered to advocates, combining the
// escalation event with the advocate it was routed to.
type Payload struct {
	AdvocateID string           `json:"advocate_id"`
	Event      *breakglass.Event `json:"event"`
}

func marshalPayload(advocateID string, event *breakglass.Event) ([]byte, error) {
	return json.Marshal(Payload{AdvocateID: advocateID, Event: event})
}

var errNilNotifier = errors.New("notifier: nil delegate")

// MultiNotifier fans a break-glass notification out to every configured
// delegate, joining any errors (teacher's MultiBreakGlassNotifier).
type MultiNotifier struct {
	notifiers []breakglass.Notifier
}

// NewMultiNotifier returns a MultiNotifier over notifiers. Nil entries are
// dropped.
func NewMultiNotifier(notifiers ...breakglass.Notifier) *MultiNotifier {
	filtered := make([]breakglass.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return &MultiNotifier{notifiers: filtered}
}

// NotifyBreakGlass dispatches to every delegate, collecting failures.
func (m *MultiNotifier) NotifyBreakGlass(ctx context.Context, advocateID string, event *breakglass.Event) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.NotifyBreakGlass(ctx, advocateID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier discards every notification. Useful for tests and
// deployments with no advocate channel configured.
type NoopNotifier struct{}

// NotifyBreakGlass does nothing.
func (NoopNotifier) NotifyBreakGlass(_ context.Context, _ string, _ *breakglass.Event) error {
	return nil
}
