package agentpipe

import "context"

// mockSender is a test double for Sender.
// Shared across root-package test files.
type mockSender struct {
	sendFn func(ctx context.Context, msgs ...UserMessage) error
	sent   chan []UserMessage
}

func newMockSender() *mockSender {
	return &mockSender{sent: make(chan []UserMessage, 16)}
}

func (m *mockSender) Send(ctx context.Context, msgs ...UserMessage) error {
	m.sent <- msgs
	if m.sendFn != nil {
		return m.sendFn(ctx, msgs...)
	}
	return nil
}
