package engine

import "context"

// EchoHandler replies with the inbound text and the current menu keyboard.
// Messages without text are ignored.
func EchoHandler(ctx context.Context, r Responder, msg *Message, conv *Conversation) error {
	if msg == nil || conv == nil || msg.Text == "" {
		return nil
	}
	// delivery failures are logged by the responder
	_, _ = r.Send(ctx, conv, msg.Text, r.Keyboard(ctx, conv))
	return nil
}
