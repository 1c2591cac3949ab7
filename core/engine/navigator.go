package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/botengine/core/logger"
)

// Navigator moves conversations through the menu graph.
type Navigator struct {
	menus    MenuGraph
	convs    ConversationStore
	registry *Registry
}

// NewNavigator wires a Navigator over the given stores and registry.
func NewNavigator(menus MenuGraph, convs ConversationStore, registry *Registry) *Navigator {
	return &Navigator{menus: menus, convs: convs, registry: registry}
}

// Process routes msg within menu. Non-button messages go to the menu handler;
// button messages are matched against the menu's buttons, then all buttons.
// Only persistence failures are returned.
func (n *Navigator) Process(ctx context.Context, r Responder, menu *Menu, msg *Message, conv *Conversation) error {
	if !msg.IsButton() {
		_ = n.registry.Invoke(ctx, Owner{Kind: OwnerMenu, ID: menu.ID}, menu.Handler, r, msg, conv)
		return nil
	}

	token := msg.Text
	if cmd := msg.ExtraString(ExtraCommand); cmd != "" {
		token = cmd
	}
	button, err := n.resolveButton(ctx, menu, token)
	if err != nil {
		return err
	}
	if button == nil {
		return nil
	}
	return n.ProcessButton(ctx, r, button, msg, conv)
}

func (n *Navigator) resolveButton(ctx context.Context, menu *Menu, token string) (*Button, error) {
	scope := "menu"
	matches, err := n.menus.FindButtons(ctx, menu.ID, token)
	if err != nil {
		return nil, fmt.Errorf("find buttons in menu %d: %w", menu.ID, err)
	}
	if len(matches) == 0 {
		scope = "global"
		if matches, err = n.menus.FindButtons(ctx, 0, token); err != nil {
			return nil, fmt.Errorf("find buttons: %w", err)
		}
	}

	attrs := []slog.Attr{
		slog.Int64("menu_id", menu.ID),
		slog.String("command", logger.SanitizeLimit(token, 128)),
		slog.String("scope", scope),
		slog.Int("matches", len(matches)),
	}
	switch len(matches) {
	case 0:
		logger.Warn(ctx, "engine", "button.ambiguous", append(attrs, slog.String("outcome", "no_match"))...)
		return nil, nil
	case 1:
		logger.Debug(ctx, "engine", "button.resolved", append(attrs, slog.String("outcome", "ok"))...)
	default:
		logger.Warn(ctx, "engine", "button.ambiguous", append(attrs,
			slog.String("outcome", "ambiguous"),
			slog.Int64("button_id", matches[0].ID),
		)...)
	}
	return &matches[0], nil
}

// ProcessButton replies with the button message, moves the conversation to
// the next menu and then runs the button handler. Each step runs regardless
// of delivery failures in the previous one.
func (n *Navigator) ProcessButton(ctx context.Context, r Responder, button *Button, msg *Message, conv *Conversation) error {
	if button.Message != "" {
		_, _ = r.Send(ctx, conv, button.Message, nil)
	}

	if button.NextMenuID != 0 {
		if err := n.enter(ctx, r, button, conv); err != nil {
			return err
		}
	}

	if button.Handler != "" {
		_ = n.registry.Invoke(ctx, Owner{Kind: OwnerButton, ID: button.ID}, button.Handler, r, msg, conv)
	}
	return nil
}

// enter persists the transition and sends exactly one payload for the new menu.
func (n *Navigator) enter(ctx context.Context, r Responder, button *Button, conv *Conversation) error {
	next, err := n.menus.Menu(ctx, button.NextMenuID)
	if err != nil {
		logger.Warn(ctx, "engine", "menu.transition",
			slog.String("status", "skip"),
			slog.Int64("button_id", button.ID),
			slog.Int64("next_menu_id", button.NextMenuID),
			slog.String("err", err.Error()),
		)
		return nil
	}

	prev := conv.CurrentMenuID
	conv.CurrentMenuID = next.ID
	if err := n.convs.Save(ctx, conv); err != nil {
		conv.CurrentMenuID = prev
		return fmt.Errorf("save conversation: %w", err)
	}
	logger.Info(ctx, "engine", "menu.transition",
		slog.String("outcome", "transition"),
		slog.Int64("menu_id", prev),
		slog.Int64("next_menu_id", next.ID),
		slog.Int64("button_id", button.ID),
	)

	buttons, err := n.menus.MenuButtons(ctx, next.ID)
	if err != nil {
		logger.Warn(ctx, "engine", "keyboard.load",
			slog.String("status", "fail"),
			slog.Int64("menu_id", next.ID),
			slog.String("err", err.Error()),
		)
	}
	if next.Message != "" {
		_, _ = r.Send(ctx, conv, next.Message, ReplyButtons(buttons))
	} else {
		_, _ = r.Send(ctx, conv, "", ActiveButtons(buttons))
	}
	return nil
}
