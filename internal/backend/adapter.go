// Package backend talks to the remote conversational service. The gateway
// only depends on the Adapter interface; the Copilot Studio client is one
// implementation of it.
package backend

import "context"

// Reply event kinds. Only message-typed replies carry text the gateway
// forwards; everything else (typing indicators, traces) is skipped.
const (
	EventMessage = "message"
	EventTyping  = "typing"
	EventEnd     = "endOfConversation"
)

// ReplyEvent is one activity emitted by the remote conversation stream.
type ReplyEvent struct {
	Type string
	Text string
}

// Adapter is the narrow boundary to the remote backend. Implementations must
// honor ctx cancellation on both calls.
type Adapter interface {
	// CreateConversation opens a new remote conversation thread using the
	// caller's credential and returns its identifier.
	CreateConversation(ctx context.Context, credential string) (string, error)

	// Ask sends text to an existing conversation and returns a lazily
	// consumed stream of reply events. The channel is closed when the remote
	// turn finishes or ctx is cancelled.
	Ask(ctx context.Context, conversationID, text string) (<-chan ReplyEvent, error)
}
