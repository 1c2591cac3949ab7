package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/m3rciful/botengine/core/engine"
)

const messengerColumns = `id, title, api_type, token, proxy, logo, welcome_text, handler,
	menu_id, hash, is_active, updated_at, created_at`

type messengerRow struct {
	ID          int64         `db:"id"`
	Title       string        `db:"title"`
	APIType     string        `db:"api_type"`
	Token       string        `db:"token"`
	Proxy       string        `db:"proxy"`
	Logo        string        `db:"logo"`
	WelcomeText string        `db:"welcome_text"`
	Handler     string        `db:"handler"`
	MenuID      sql.NullInt64 `db:"menu_id"`
	Hash        string        `db:"hash"`
	IsActive    bool          `db:"is_active"`
	UpdatedAt   time.Time     `db:"updated_at"`
	CreatedAt   time.Time     `db:"created_at"`
}

func (r messengerRow) toMessenger() engine.Messenger {
	return engine.Messenger{
		ID:          r.ID,
		Title:       r.Title,
		APIType:     engine.APIType(r.APIType),
		Token:       r.Token,
		Proxy:       r.Proxy,
		Logo:        r.Logo,
		WelcomeText: r.WelcomeText,
		Handler:     r.Handler,
		MenuID:      r.MenuID.Int64,
		Hash:        r.Hash,
		IsActive:    r.IsActive,
		UpdatedAt:   r.UpdatedAt,
		CreatedAt:   r.CreatedAt,
	}
}

type messengerStore struct {
	s *Store
}

func (m *messengerStore) get(ctx context.Context, op, where string, arg any) (*engine.Messenger, error) {
	var row messengerRow
	if err := m.s.db.GetContext(ctx, &row, `SELECT `+messengerColumns+` FROM messengers WHERE `+where, arg); err != nil {
		return nil, mapError(op, err)
	}
	msgr := row.toMessenger()
	return &msgr, nil
}

func (m *messengerStore) GetByHash(ctx context.Context, hash string) (*engine.Messenger, error) {
	return m.get(ctx, "get messenger by hash", "hash = $1", hash)
}

func (m *messengerStore) GetByID(ctx context.Context, id int64) (*engine.Messenger, error) {
	return m.get(ctx, "get messenger", "id = $1", id)
}

func (m *messengerStore) List(ctx context.Context) ([]engine.Messenger, error) {
	var rows []messengerRow
	if err := m.s.db.SelectContext(ctx, &rows, `SELECT `+messengerColumns+` FROM messengers ORDER BY id`); err != nil {
		return nil, mapError("list messengers", err)
	}
	out := make([]engine.Messenger, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessenger())
	}
	return out, nil
}

func (m *messengerStore) Create(ctx context.Context, msgr *engine.Messenger) error {
	if msgr.Handler == "" {
		msgr.Handler = engine.EchoHandlerKey
	}
	if msgr.APIType == "" {
		msgr.APIType = engine.APINone
	}
	id := m.s.ids.NextID()
	hash := engine.TokenHash(msgr.Token)
	err := m.s.db.QueryRowxContext(ctx, `
		INSERT INTO messengers (id, title, api_type, token, proxy, logo, welcome_text,
			handler, menu_id, hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		id, msgr.Title, string(msgr.APIType), msgr.Token, msgr.Proxy, msgr.Logo, msgr.WelcomeText,
		msgr.Handler, nullID(msgr.MenuID), hash, msgr.IsActive,
	).Scan(&msgr.CreatedAt, &msgr.UpdatedAt)
	if err != nil {
		return mapError("create messenger", err)
	}
	msgr.ID = id
	msgr.Hash = hash
	return nil
}

// Update overwrites the record but keeps the hash computed at creation.
func (m *messengerStore) Update(ctx context.Context, msgr *engine.Messenger) error {
	err := m.s.db.QueryRowxContext(ctx, `
		UPDATE messengers
		SET title = $2, api_type = $3, token = $4, proxy = $5, logo = $6, welcome_text = $7,
			handler = $8, menu_id = $9, is_active = $10, updated_at = now()
		WHERE id = $1
		RETURNING hash, created_at, updated_at`,
		msgr.ID, msgr.Title, string(msgr.APIType), msgr.Token, msgr.Proxy, msgr.Logo, msgr.WelcomeText,
		msgr.Handler, nullID(msgr.MenuID), msgr.IsActive,
	).Scan(&msgr.Hash, &msgr.CreatedAt, &msgr.UpdatedAt)
	return mapError("update messenger", err)
}

func (m *messengerStore) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := m.s.db.ExecContext(ctx,
		`UPDATE messengers SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	return requireRow("set messenger active", res, err)
}
