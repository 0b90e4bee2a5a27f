// Package memory keeps run summaries in process. It backs dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one payload handed to Publish.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher implements scrape.Publisher without any transport.
type Publisher struct {
	topic string

	mu       sync.Mutex
	messages []Message
	failWith error
}

// New returns a Publisher labeling every message with topic.
func New(topic string) *Publisher {
	return &Publisher{topic: topic}
}

// FailWith makes subsequent Publish calls return err. Nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.failWith = err
	p.mu.Unlock()
}

// Publish stores payload and returns its sequence ID.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic, p.failWith)
	}
	msg := Message{
		ID:      fmt.Sprintf("%s-%d", p.topic, len(p.messages)+1),
		Topic:   p.topic,
		Payload: payload,
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
