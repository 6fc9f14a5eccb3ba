// Package chat keeps the in-memory message history for a room and fans new
// messages out to registered observers.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one chat entry as surfaced to the UI layer.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	Content    string
	At         time.Time
}

// NewMessage builds a message with a fresh identifier, stamped now.
func NewMessage(senderID, senderName, content string) Message {
	return Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		At:         time.Now(),
	}
}

// Log is an append-only chat history. Safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	messages  []Message
	observers []func(Message)
}

func NewLog() *Log {
	return &Log{}
}

// Append records a message and notifies observers. Messages with an ID
// already present are dropped, so redelivered events do not duplicate.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	for _, m := range l.messages {
		if m.ID == msg.ID {
			l.mu.Unlock()
			return
		}
	}
	l.messages = append(l.messages, msg)
	observers := make([]func(Message), len(l.observers))
	copy(observers, l.observers)
	l.mu.Unlock()

	for _, fn := range observers {
		fn(msg)
	}
}

// History returns a copy of all messages in arrival order.
func (l *Log) History() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// OnMessage registers an observer invoked for each appended message.
func (l *Log) OnMessage(fn func(Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}
