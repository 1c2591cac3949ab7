package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botengine/core/engine"
)

// ParseMessage decodes a Telegram update.
func (a *Adapter) ParseMessage(_ context.Context, req *engine.Request) (*engine.Message, error) {
	if req == nil || len(req.Body) == 0 {
		return nil, fmt.Errorf("telegram: empty update")
	}
	var upd tele.Update
	if err := json.Unmarshal(req.Body, &upd); err != nil {
		return nil, fmt.Errorf("telegram: decode update: %w", err)
	}
	return convertUpdate(&upd), nil
}

func convertUpdate(upd *tele.Update) *engine.Message {
	switch {
	case upd.Callback != nil:
		return convertCallback(upd.Callback)
	case upd.MyChatMember != nil:
		return convertMember(upd.MyChatMember)
	case upd.Message != nil:
		return convertMessage(upd.Message)
	}
	return &engine.Message{
		Kind:  engine.KindUndefined,
		ID:    strconv.Itoa(upd.ID),
		Extra: map[string]any{engine.ExtraEventType: "update"},
	}
}

func convertMessage(m *tele.Message) *engine.Message {
	msg := &engine.Message{ID: strconv.Itoa(m.ID), Timestamp: m.Unixtime}
	setSender(msg, m.Sender)
	if m.Chat != nil {
		msg.SetExtra(engine.ExtraChatID, strconv.FormatInt(m.Chat.ID, 10))
	}

	switch {
	case m.Text != "":
		msg.Text = m.Text
		if payload, ok := startPayload(m.Text); ok {
			msg.Kind = engine.KindStart
			if payload != "" {
				msg.SetExtra(engine.ExtraContext, payload)
			}
		} else if hasURL(m.Entities) {
			msg.Kind = engine.KindURL
		} else {
			msg.Kind = engine.KindText
		}
	case m.Photo != nil:
		msg.Kind = engine.KindPicture
		msg.Text = m.Caption
		msg.SetExtra(engine.ExtraFileID, m.Photo.FileID)
		msg.SetExtra(engine.ExtraSize, m.Photo.FileSize)
	case m.Video != nil:
		msg.Kind = engine.KindVideo
		msg.Text = m.Caption
		msg.SetExtra(engine.ExtraFileID, m.Video.FileID)
		msg.SetExtra(engine.ExtraSize, m.Video.FileSize)
	case m.Audio != nil:
		msg.Kind = engine.KindAudio
		msg.SetExtra(engine.ExtraFileID, m.Audio.FileID)
	case m.Voice != nil:
		msg.Kind = engine.KindAudio
		msg.SetExtra(engine.ExtraFileID, m.Voice.FileID)
	case m.Document != nil:
		msg.Kind = engine.KindFile
		msg.Text = m.Caption
		msg.SetExtra(engine.ExtraFileID, m.Document.FileID)
		msg.SetExtra(engine.ExtraFileName, m.Document.FileName)
		msg.SetExtra(engine.ExtraSize, m.Document.FileSize)
	case m.Sticker != nil:
		msg.Kind = engine.KindSticker
		msg.SetExtra(engine.ExtraFileID, m.Sticker.FileID)
	case m.Contact != nil:
		msg.Kind = engine.KindContact
		msg.Text = m.Contact.PhoneNumber
	case m.Location != nil:
		msg.Kind = engine.KindLocation
		msg.SetExtra(engine.ExtraLatitude, float64(m.Location.Lat))
		msg.SetExtra(engine.ExtraLongitude, float64(m.Location.Lng))
	default:
		msg.Kind = engine.KindUndefined
	}
	return msg
}

func convertCallback(cb *tele.Callback) *engine.Message {
	msg := &engine.Message{
		Kind: engine.KindButton,
		ID:   cb.ID,
		Text: callbackCommand(cb.Data),
	}
	setSender(msg, cb.Sender)
	msg.SetExtra(engine.ExtraCallbackID, cb.ID)
	if cb.Message != nil {
		msg.Timestamp = cb.Message.Unixtime
		if cb.Message.Chat != nil {
			msg.SetExtra(engine.ExtraChatID, strconv.FormatInt(cb.Message.Chat.ID, 10))
		}
	}
	return msg
}

// convertMember maps bot membership changes in private chats onto
// subscription events.
func convertMember(u *tele.ChatMemberUpdate) *engine.Message {
	msg := &engine.Message{Kind: engine.KindUndefined, Timestamp: u.Unixtime}
	setSender(msg, u.Sender)
	if u.NewChatMember == nil {
		return msg
	}
	switch u.NewChatMember.Role {
	case tele.Kicked, tele.Left:
		msg.Kind = engine.KindUnsubscribed
	case tele.Member:
		msg.Kind = engine.KindSubscribed
	}
	return msg
}

func setSender(msg *engine.Message, u *tele.User) {
	if u == nil || u.ID == 0 {
		return
	}
	msg.SenderID = strconv.FormatInt(u.ID, 10)
	if u.Username != "" {
		msg.SetExtra(engine.ExtraUserName, u.Username)
	}
}

// startPayload reports whether text is the /start command and returns its
// deep-link payload.
func startPayload(text string) (string, bool) {
	cmd, payload, _ := strings.Cut(strings.TrimSpace(text), " ")
	name, _, _ := strings.Cut(cmd, "@")
	if name != "/start" {
		return "", false
	}
	return strings.TrimSpace(payload), true
}

func hasURL(entities tele.Entities) bool {
	for _, e := range entities {
		if e.Type == tele.EntityURL || e.Type == tele.EntityTextLink {
			return true
		}
	}
	return false
}

// PreprocessMessage turns a text message matching a reply keyboard label of
// the current menu into a button selection carrying the button command, and
// acknowledges callback queries.
func (a *Adapter) PreprocessMessage(ctx context.Context, msg *engine.Message, conv *engine.Conversation) (*engine.Message, *engine.Conversation, error) {
	if id := msg.ExtraString(engine.ExtraCallbackID); id != "" {
		// Best effort: an unanswered callback only leaves a spinner on the client.
		go func() { _ = a.bot.Respond(&tele.Callback{ID: id}) }()
		return msg, conv, nil
	}
	out, err := engine.KeyboardSelection(ctx, a.menus, msg, conv, func(text string, b engine.Button) bool {
		return !b.IsInline && b.Label() == text
	})
	return out, conv, err
}
