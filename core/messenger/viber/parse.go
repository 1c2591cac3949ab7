package viber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/logger"
)

type callback struct {
	Event        string          `json:"event"`
	Timestamp    int64           `json:"timestamp"`
	MessageToken json.Number     `json:"message_token"`
	UserID       string          `json:"user_id"`
	Desc         string          `json:"desc"`
	Context      string          `json:"context"`
	User         *user           `json:"user"`
	Sender       *user           `json:"sender"`
	Message      json.RawMessage `json:"message"`
}

type inMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Media    string `json:"media"`
	Size     int64  `json:"size"`
	FileName string `json:"file_name"`
	Contact  *struct {
		Name        string `json:"name"`
		PhoneNumber string `json:"phone_number"`
	} `json:"contact"`
	Location *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"location"`
}

var messageKinds = map[string]engine.Kind{
	"text":       engine.KindText,
	"picture":    engine.KindPicture,
	"video":      engine.KindVideo,
	"file":       engine.KindFile,
	"sticker":    engine.KindSticker,
	"contact":    engine.KindContact,
	"url":        engine.KindURL,
	"location":   engine.KindLocation,
	"rich_media": engine.KindRichMedia,
}

// ParseMessage verifies the callback signature and decodes the event. A
// missing signature is rejected unless the adapter allows unsigned callbacks.
// A message body that cannot be decoded yields an undefined message.
func (a *Adapter) ParseMessage(ctx context.Context, req *engine.Request) (*engine.Message, error) {
	if req == nil || len(req.Body) == 0 {
		return nil, fmt.Errorf("viber: empty callback")
	}
	sig := req.Header.Get(signatureHeader)
	switch {
	case sig == "" && !a.allowUnsigned:
		return nil, ErrBadSignature
	case sig != "" && !a.VerifySignature(req.Body, sig):
		return nil, ErrBadSignature
	}
	var cb callback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, fmt.Errorf("viber: decode callback: %w", err)
	}

	// Viber timestamps are in milliseconds.
	msg := &engine.Message{ID: cb.MessageToken.String(), Timestamp: cb.Timestamp / 1000}
	switch cb.Event {
	case "message":
		setSender(msg, cb.Sender)
		if err := fillMessage(msg, cb.Message); err != nil {
			logger.Warn(ctx, "adapter", "viber.parse",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			msg.Kind = engine.KindUndefined
			msg.SetExtra(engine.ExtraEventType, cb.Event)
		}
	case "conversation_started":
		msg.Kind = engine.KindStart
		setSender(msg, cb.User)
		if cb.Context != "" {
			msg.SetExtra(engine.ExtraContext, cb.Context)
		}
	case "subscribed":
		msg.Kind = engine.KindSubscribed
		setSender(msg, cb.User)
	case "unsubscribed":
		msg.Kind = engine.KindUnsubscribed
		msg.SenderID = cb.UserID
	case "delivered":
		msg.Kind = engine.KindDelivered
		msg.SenderID = cb.UserID
	case "seen":
		msg.Kind = engine.KindSeen
		msg.SenderID = cb.UserID
	case "failed":
		msg.Kind = engine.KindFailed
		msg.SenderID = cb.UserID
		msg.SetExtra(engine.ExtraError, cb.Desc)
	case "webhook":
		msg.Kind = engine.KindWebhook
	default:
		msg.Kind = engine.KindUndefined
		msg.SetExtra(engine.ExtraEventType, cb.Event)
	}
	return msg, nil
}

func setSender(msg *engine.Message, u *user) {
	if u == nil {
		return
	}
	msg.SenderID = u.ID
	if u.Name != "" {
		msg.SetExtra(engine.ExtraUserName, u.Name)
	}
}

func fillMessage(msg *engine.Message, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("message body missing")
	}
	var in inMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	kind, ok := messageKinds[in.Type]
	if !ok {
		return fmt.Errorf("unsupported message type %q", in.Type)
	}
	msg.Kind = kind
	msg.Text = in.Text
	switch kind {
	case engine.KindPicture:
		msg.SetExtra(engine.ExtraImageURL, in.Media)
	case engine.KindVideo:
		msg.SetExtra(engine.ExtraVideoURL, in.Media)
		msg.SetExtra(engine.ExtraSize, in.Size)
	case engine.KindFile:
		msg.SetExtra(engine.ExtraFileName, in.FileName)
		msg.SetExtra(engine.ExtraSize, in.Size)
	case engine.KindURL:
		if msg.Text == "" {
			msg.Text = in.Media
		}
	case engine.KindContact:
		if in.Contact != nil {
			msg.Text = in.Contact.PhoneNumber
		}
	case engine.KindLocation:
		if in.Location != nil {
			msg.SetExtra(engine.ExtraLatitude, in.Location.Lat)
			msg.SetExtra(engine.ExtraLongitude, in.Location.Lon)
		}
	}
	return nil
}
