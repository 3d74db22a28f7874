// Package memory manages conversation state: a bounded short-term window
// per session and a long-term archive of question/answer pairs in the
// vector store, retrievable by question similarity.
package memory

import "time"

// Role identifies who produced a message.
type Role string

const (
	// RoleHuman is a user question or clarification answer.
	RoleHuman Role = "human"

	// RoleAssistant is a pipeline answer, stored as a JSON summary.
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation window.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHuman returns a human message stamped with the current time.
func NewHuman(content string) Message {
	return Message{Role: RoleHuman, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistant returns an assistant message stamped with the current time.
func NewAssistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}
