package notify

import (
	"context"
	"log"
)

// Message is one staged notification drained from the outbox.
type Message struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// Notifier delivers one message to an external channel (email, e-sign
// provider, webhook). Delivery is best-effort: an error marks the message
// for retry, it never affects the workflow mutation that enqueued it.
type Notifier interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogNotifier writes deliveries to the process log. It stands in for real
// provider integrations in development and in the stress harness.
type LogNotifier struct{}

func (LogNotifier) Deliver(_ context.Context, msg Message) error {
	log.Printf("notify: %s %s", msg.Topic, msg.Payload)
	return nil
}
