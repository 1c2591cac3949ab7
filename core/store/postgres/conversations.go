package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/m3rciful/botengine/core/engine"
)

const conversationColumns = `id, messenger_id, sender_id, username, utm_source, current_menu_id,
	context, info, is_active, updated_at, created_at`

type conversationRow struct {
	ID            int64          `db:"id"`
	MessengerID   int64          `db:"messenger_id"`
	SenderID      string         `db:"sender_id"`
	Username      string         `db:"username"`
	UTMSource     string         `db:"utm_source"`
	CurrentMenuID sql.NullInt64  `db:"current_menu_id"`
	Context       types.JSONText `db:"context"`
	Info          types.JSONText `db:"info"`
	IsActive      bool           `db:"is_active"`
	UpdatedAt     time.Time      `db:"updated_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r conversationRow) toConversation() (*engine.Conversation, error) {
	conv := &engine.Conversation{
		ID:            r.ID,
		MessengerID:   r.MessengerID,
		SenderID:      r.SenderID,
		Username:      r.Username,
		UTMSource:     r.UTMSource,
		CurrentMenuID: r.CurrentMenuID.Int64,
		IsActive:      r.IsActive,
		UpdatedAt:     r.UpdatedAt,
		CreatedAt:     r.CreatedAt,
	}
	if err := decodeMap(r.Context, &conv.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if err := decodeMap(r.Info, &conv.Info); err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	return conv, nil
}

func decodeMap(raw types.JSONText, dst *map[string]any) error {
	*dst = map[string]any{}
	if len(raw) == 0 {
		return nil
	}
	return raw.Unmarshal(dst)
}

func encodeMap(m map[string]any) (types.JSONText, error) {
	if m == nil {
		return types.JSONText("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return types.JSONText(data), nil
}

type conversationStore struct {
	s *Store
}

// GetOrCreate inserts defaults unless the row exists. Concurrent callers race
// on the unique (messenger_id, sender_id) key and exactly one sees created.
func (c *conversationStore) GetOrCreate(ctx context.Context, messengerID int64, senderID string, defaults engine.Conversation) (*engine.Conversation, bool, error) {
	convCtx, err := encodeMap(defaults.Context)
	if err != nil {
		return nil, false, fmt.Errorf("encode context: %w", err)
	}
	info, err := encodeMap(defaults.Info)
	if err != nil {
		return nil, false, fmt.Errorf("encode info: %w", err)
	}

	var row conversationRow
	err = c.s.db.QueryRowxContext(ctx, `
		INSERT INTO conversations (id, messenger_id, sender_id, username, utm_source,
			current_menu_id, context, info, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (messenger_id, sender_id) DO NOTHING
		RETURNING `+conversationColumns,
		c.s.ids.NextID(), messengerID, senderID, defaults.Username, defaults.UTMSource,
		nullID(defaults.CurrentMenuID), convCtx, info, defaults.IsActive,
	).StructScan(&row)
	switch {
	case err == nil:
		conv, err := row.toConversation()
		return conv, true, err
	case errors.Is(err, sql.ErrNoRows):
		conv, err := c.Get(ctx, messengerID, senderID)
		return conv, false, err
	default:
		return nil, false, mapError("insert conversation", err)
	}
}

func (c *conversationStore) Get(ctx context.Context, messengerID int64, senderID string) (*engine.Conversation, error) {
	var row conversationRow
	err := c.s.db.GetContext(ctx, &row,
		`SELECT `+conversationColumns+` FROM conversations WHERE messenger_id = $1 AND sender_id = $2`,
		messengerID, senderID)
	if err != nil {
		return nil, mapError("get conversation", err)
	}
	return row.toConversation()
}

func (c *conversationStore) Save(ctx context.Context, conv *engine.Conversation) error {
	convCtx, err := encodeMap(conv.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	info, err := encodeMap(conv.Info)
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}
	err = c.s.db.QueryRowxContext(ctx, `
		UPDATE conversations
		SET username = $3, utm_source = $4, current_menu_id = $5, context = $6,
			info = $7, is_active = $8, updated_at = now()
		WHERE messenger_id = $1 AND sender_id = $2
		RETURNING updated_at`,
		conv.MessengerID, conv.SenderID, conv.Username, conv.UTMSource,
		nullID(conv.CurrentMenuID), convCtx, info, conv.IsActive,
	).Scan(&conv.UpdatedAt)
	return mapError("save conversation", err)
}

func (c *conversationStore) UpdateProfile(ctx context.Context, conv *engine.Conversation) error {
	info, err := encodeMap(conv.Info)
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}
	res, err := c.s.db.ExecContext(ctx, `
		UPDATE conversations
		SET username = $3, info = $4, is_active = $5, updated_at = now()
		WHERE messenger_id = $1 AND sender_id = $2`,
		conv.MessengerID, conv.SenderID, conv.Username, info, conv.IsActive)
	return requireRow("update profile", res, err)
}
