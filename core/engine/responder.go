package engine

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync/atomic"

	"github.com/m3rciful/botengine/core/logger"
	"github.com/m3rciful/botengine/core/netutil"
)

// Responder delivers replies to a conversation.
type Responder interface {
	// Send delivers text with buttons. An unreachable recipient deactivates the
	// conversation and is not reported as an error; transport failures are
	// logged and returned. Nothing is retried.
	Send(ctx context.Context, conv *Conversation, text string, buttons []Button) (string, error)
	// Keyboard returns the active non-inline buttons of the conversation's current menu.
	Keyboard(ctx context.Context, conv *Conversation) []Button
}

type responder struct {
	adapter MessengerAdapter
	convs   ConversationStore
	menus   MenuGraph

	// delivered replies and whether any carried buttons
	sent     atomic.Int32
	keyboard atomic.Bool
}

func (r *responder) Send(ctx context.Context, conv *Conversation, text string, buttons []Button) (string, error) {
	if conv == nil {
		return "", nil
	}
	token, err := r.adapter.SendMessage(ctx, conv.SenderID, text, buttons)
	if err == nil {
		r.sent.Add(1)
		if len(buttons) > 0 {
			r.keyboard.Store(true)
		}
		logger.Debug(ctx, "engine", "reply.sent",
			slog.String("status", "ok"),
			slog.Int("buttons", len(buttons)),
		)
		return token, nil
	}

	var notSubscribed *NotSubscribedError
	if errors.As(err, &notSubscribed) {
		logger.Warn(ctx, "engine", "reply.not_subscribed",
			slog.String("status", "drop"),
			slog.String("username", conv.Username),
		)
		conv.IsActive = false
		if saveErr := r.convs.Save(ctx, conv); saveErr != nil {
			logger.Error(ctx, "engine", "conversation.save",
				slog.String("status", "fail"),
				slog.String("err", saveErr.Error()),
			)
		}
		return "", nil
	}

	logger.Error(ctx, "engine", "reply.failed",
		slog.String("status", "fail"),
		slog.String("err_code", netutil.Classify(err)),
		slog.String("err", err.Error()),
	)
	return "", err
}

// counters reports how many replies were delivered and whether one had buttons.
func (r *responder) counters() (int, bool) {
	return int(r.sent.Load()), r.keyboard.Load()
}

func (r *responder) Keyboard(ctx context.Context, conv *Conversation) []Button {
	if conv == nil || conv.CurrentMenuID == 0 {
		return nil
	}
	buttons, err := r.menus.MenuButtons(ctx, conv.CurrentMenuID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn(ctx, "engine", "keyboard.load",
				slog.String("status", "fail"),
				slog.Int64("menu_id", conv.CurrentMenuID),
				slog.String("err", err.Error()),
			)
		}
		return nil
	}
	return ReplyButtons(buttons)
}

// ActiveButtons filters out inactive buttons.
func ActiveButtons(buttons []Button) []Button {
	out := make([]Button, 0, len(buttons))
	for _, b := range buttons {
		if b.IsActive {
			out = append(out, b)
		}
	}
	return out
}

// ReplyButtons keeps active buttons that belong on a reply keyboard.
func ReplyButtons(buttons []Button) []Button {
	out := make([]Button, 0, len(buttons))
	for _, b := range buttons {
		if b.IsActive && !b.IsInline {
			out = append(out, b)
		}
	}
	return out
}

// KeyboardSelection reclassifies a text message as a selection of an active
// button of the current menu. match decides which button the text picks.
// The text is kept as typed; when it equals neither the button text nor its
// command, the command travels in Extra[ExtraCommand]. Messages that match
// nothing are returned as is.
func KeyboardSelection(ctx context.Context, menus MenuGraph, msg *Message, conv *Conversation, match func(text string, b Button) bool) (*Message, error) {
	if msg == nil || msg.Kind != KindText || conv == nil || conv.CurrentMenuID == 0 || menus == nil {
		return msg, nil
	}
	buttons, err := menus.MenuButtons(ctx, conv.CurrentMenuID)
	if err != nil {
		return msg, err
	}
	for _, b := range ActiveButtons(buttons) {
		if !match(msg.Text, b) {
			continue
		}
		out := *msg
		out.Kind = KindButton
		if b.Text != msg.Text && b.Command != msg.Text {
			out.Extra = maps.Clone(msg.Extra)
			out.SetExtra(ExtraCommand, b.Command)
		}
		return &out, nil
	}
	return msg, nil
}
