package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botengine/core/engine"
)

// SendMessage sends text to the private chat of senderID. Empty text is
// replaced with the keyboard placeholder.
func (a *Adapter) SendMessage(ctx context.Context, senderID, text string, buttons []engine.Button) (string, error) {
	id, err := strconv.ParseInt(senderID, 10, 64)
	if err != nil {
		return "", &engine.AdapterError{Op: "sendMessage", Err: fmt.Errorf("sender id %q: %w", senderID, err)}
	}
	if strings.TrimSpace(text) == "" {
		text = a.keyboardText
	}
	opts := &tele.SendOptions{}
	if markup := buildMarkup(buttons); markup != nil {
		opts.ReplyMarkup = markup
	}
	sent, err := await(ctx, func() (*tele.Message, error) {
		return a.bot.Send(tele.ChatID(id), text, opts)
	})
	if err != nil {
		return "", wrapError("sendMessage", senderID, err)
	}
	return strconv.Itoa(sent.ID), nil
}

// wrapError maps Bot API failures onto engine errors. 403 means the user
// blocked the bot or deleted the chat.
func wrapError(op, senderID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &engine.AdapterError{Op: op, Err: err}
	}
	if statusFromError(err) == http.StatusForbidden && senderID != "" {
		return &engine.NotSubscribedError{SenderID: senderID, Err: err}
	}
	return &engine.AdapterError{Op: op, Err: err}
}

func statusFromError(err error) int {
	if err == nil {
		return 0
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}

	// Unknown API errors are formatted as "telegram: <description> (<code>)".
	msg := err.Error()
	lastOpen := strings.LastIndex(msg, "(")
	lastClose := strings.LastIndex(msg, ")")
	if lastOpen >= 0 && lastClose > lastOpen+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[lastOpen+1 : lastClose])); convErr == nil {
			return code
		}
	}
	return 0
}
