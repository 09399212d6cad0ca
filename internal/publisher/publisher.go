// Package publisher defines the outbound notification contract used to tell
// downstream systems about harvested contacts.
package publisher

import "context"

// Publisher pushes a payload to a named topic and returns the broker's
// message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Attributed payloads carry broker-level attributes used for filtering
// subscriptions without decoding the body.
type Attributed interface {
	Attributes() map[string]string
}

// AttributesOf returns the payload's attributes, or nil.
func AttributesOf(payload any) map[string]string {
	if a, ok := payload.(Attributed); ok {
		return a.Attributes()
	}
	return nil
}
