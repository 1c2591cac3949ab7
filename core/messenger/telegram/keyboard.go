package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botengine/core/engine"
)

const buttonsPerRow = 3

// buildMarkup renders buttons as an inline keyboard when every button is
// inline, otherwise as a reply keyboard of the non-inline buttons. Inline
// buttons carry the button command as callback data.
func buildMarkup(buttons []engine.Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	allInline := true
	for _, b := range buttons {
		if !b.IsInline {
			allInline = false
			break
		}
	}
	if allInline {
		return inlineMarkup(buttons)
	}
	return replyMarkup(buttons)
}

func replyMarkup(buttons []engine.Button) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	var btns []tele.Btn
	for _, b := range buttons {
		if b.IsInline {
			continue
		}
		btns = append(btns, markup.Text(b.Label()))
	}
	if len(btns) == 0 {
		return nil
	}
	var rows []tele.Row
	for _, chunk := range chunk(btns, buttonsPerRow) {
		rows = append(rows, markup.Row(chunk...))
	}
	markup.Reply(rows...)
	return markup
}

func inlineMarkup(buttons []engine.Button) *tele.ReplyMarkup {
	inline := make([]tele.InlineButton, 0, len(buttons))
	for _, b := range buttons {
		inline = append(inline, tele.InlineButton{Text: b.Label(), Data: b.Command})
	}
	return &tele.ReplyMarkup{InlineKeyboard: chunk(inline, buttonsPerRow)}
}

// chunk splits items into rows of up to n entries.
func chunk[T any](items []T, n int) [][]T {
	var rows [][]T
	for i := 0; i < len(items); i += n {
		end := min(i+n, len(items))
		rows = append(rows, items[i:end])
	}
	return rows
}

// callbackCommand extracts the command from callback data, accepting the
// "\f<unique>|<payload>" encoding telebot uses for its own buttons.
func callbackCommand(data string) string {
	raw := strings.TrimPrefix(data, "\f")
	if raw == data {
		return strings.TrimSpace(data)
	}
	unique, payload, found := strings.Cut(raw, "|")
	if found && payload != "" {
		return strings.TrimSpace(payload)
	}
	return strings.TrimSpace(unique)
}
