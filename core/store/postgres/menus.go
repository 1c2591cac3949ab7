package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m3rciful/botengine/core/engine"
)

const (
	menuColumns   = `id, title, message, comment, handler`
	buttonColumns = `b.id, b.title, b.text, b.command, b.message, b.comment, b.handler,
	b.next_menu_id, b.for_staff, b.for_admin, b.is_inline, b.is_active`
)

type buttonRow struct {
	ID         int64         `db:"id"`
	Title      string        `db:"title"`
	Text       string        `db:"text"`
	Command    string        `db:"command"`
	Message    string        `db:"message"`
	Comment    string        `db:"comment"`
	Handler    string        `db:"handler"`
	NextMenuID sql.NullInt64 `db:"next_menu_id"`
	ForStaff   bool          `db:"for_staff"`
	ForAdmin   bool          `db:"for_admin"`
	IsInline   bool          `db:"is_inline"`
	IsActive   bool          `db:"is_active"`
}

func (r buttonRow) toButton() engine.Button {
	return engine.Button{
		ID:         r.ID,
		Title:      r.Title,
		Text:       r.Text,
		Command:    r.Command,
		Message:    r.Message,
		Comment:    r.Comment,
		Handler:    r.Handler,
		NextMenuID: r.NextMenuID.Int64,
		ForStaff:   r.ForStaff,
		ForAdmin:   r.ForAdmin,
		IsInline:   r.IsInline,
		IsActive:   r.IsActive,
	}
}

func toButtons(rows []buttonRow) []engine.Button {
	out := make([]engine.Button, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toButton())
	}
	return out
}

type menuGraph struct {
	s *Store
}

func (g *menuGraph) Menu(ctx context.Context, id int64) (*engine.Menu, error) {
	var m engine.Menu
	if err := g.s.db.GetContext(ctx, &m, `SELECT `+menuColumns+` FROM menus WHERE id = $1`, id); err != nil {
		return nil, mapError("get menu", err)
	}
	return &m, nil
}

func (g *menuGraph) MenuByTitle(ctx context.Context, title string) (*engine.Menu, error) {
	var m engine.Menu
	if err := g.s.db.GetContext(ctx, &m, `SELECT `+menuColumns+` FROM menus WHERE title = $1`, title); err != nil {
		return nil, mapError("get menu by title", err)
	}
	return &m, nil
}

func (g *menuGraph) MenuButtons(ctx context.Context, menuID int64) ([]engine.Button, error) {
	var exists bool
	if err := g.s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM menus WHERE id = $1)`, menuID); err != nil {
		return nil, mapError("menu exists", err)
	}
	if !exists {
		return nil, engine.ErrNotFound
	}
	var rows []buttonRow
	err := g.s.db.SelectContext(ctx, &rows, `
		SELECT `+buttonColumns+`
		FROM menu_buttons mb JOIN buttons b ON b.id = mb.button_id
		WHERE mb.menu_id = $1
		ORDER BY mb.position`, menuID)
	if err != nil {
		return nil, mapError("menu buttons", err)
	}
	return toButtons(rows), nil
}

func (g *menuGraph) FindButtons(ctx context.Context, menuID int64, token string) ([]engine.Button, error) {
	var rows []buttonRow
	var err error
	if menuID == 0 {
		err = g.s.db.SelectContext(ctx, &rows, `
			SELECT `+buttonColumns+`
			FROM buttons b
			WHERE b.command = $1 OR b.text = $1
			ORDER BY b.id`, token)
	} else {
		err = g.s.db.SelectContext(ctx, &rows, `
			SELECT `+buttonColumns+`
			FROM menu_buttons mb JOIN buttons b ON b.id = mb.button_id
			WHERE mb.menu_id = $1 AND (b.command = $2 OR b.text = $2)
			ORDER BY mb.position`, menuID, token)
	}
	if err != nil {
		return nil, mapError("find buttons", err)
	}
	return toButtons(rows), nil
}

func (g *menuGraph) Button(ctx context.Context, id int64) (*engine.Button, error) {
	var row buttonRow
	if err := g.s.db.GetContext(ctx, &row, `SELECT `+buttonColumns+` FROM buttons b WHERE b.id = $1`, id); err != nil {
		return nil, mapError("get button", err)
	}
	b := row.toButton()
	return &b, nil
}

func (g *menuGraph) CreateMenu(ctx context.Context, m *engine.Menu) error {
	if m.Handler == "" {
		m.Handler = engine.EchoHandlerKey
	}
	id := g.s.ids.NextID()
	_, err := g.s.db.ExecContext(ctx, `
		INSERT INTO menus (id, title, message, comment, handler)
		VALUES ($1, $2, $3, $4, $5)`,
		id, m.Title, m.Message, m.Comment, m.Handler)
	if err != nil {
		return mapError("create menu", err)
	}
	m.ID = id
	return nil
}

func (g *menuGraph) UpdateMenu(ctx context.Context, m *engine.Menu) error {
	res, err := g.s.db.ExecContext(ctx, `
		UPDATE menus SET title = $2, message = $3, comment = $4, handler = $5, updated_at = now()
		WHERE id = $1`,
		m.ID, m.Title, m.Message, m.Comment, m.Handler)
	return requireRow("update menu", res, err)
}

// DeleteMenu relies on the schema to null button destinations and messenger
// root menus and to drop memberships.
func (g *menuGraph) DeleteMenu(ctx context.Context, id int64) error {
	res, err := g.s.db.ExecContext(ctx, `DELETE FROM menus WHERE id = $1`, id)
	return requireRow("delete menu", res, err)
}

func (g *menuGraph) CreateButton(ctx context.Context, b *engine.Button) error {
	if b.Command == "" {
		b.Command = engine.NewButtonCommand(b.Title)
	}
	id := g.s.ids.NextID()
	_, err := g.s.db.ExecContext(ctx, `
		INSERT INTO buttons (id, title, text, command, message, comment, handler,
			next_menu_id, for_staff, for_admin, is_inline, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, b.Title, b.Text, b.Command, b.Message, b.Comment, b.Handler,
		nullID(b.NextMenuID), b.ForStaff, b.ForAdmin, b.IsInline, b.IsActive)
	if err != nil {
		return mapError("create button", err)
	}
	b.ID = id
	return nil
}

// UpdateButton writes every column except the command, which is reported back in b.
func (g *menuGraph) UpdateButton(ctx context.Context, b *engine.Button) error {
	err := g.s.db.QueryRowxContext(ctx, `
		UPDATE buttons
		SET title = $2, text = $3, message = $4, comment = $5, handler = $6,
			next_menu_id = $7, for_staff = $8, for_admin = $9, is_inline = $10,
			is_active = $11, updated_at = now()
		WHERE id = $1
		RETURNING command`,
		b.ID, b.Title, b.Text, b.Message, b.Comment, b.Handler,
		nullID(b.NextMenuID), b.ForStaff, b.ForAdmin, b.IsInline, b.IsActive,
	).Scan(&b.Command)
	return mapError("update button", err)
}

// AttachButton appends the button to the menu; attaching twice is a no-op.
func (g *menuGraph) AttachButton(ctx context.Context, menuID, buttonID int64) error {
	_, err := g.s.db.ExecContext(ctx, `
		INSERT INTO menu_buttons (menu_id, button_id, position)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1 FROM menu_buttons WHERE menu_id = $1
		ON CONFLICT (menu_id, button_id) DO NOTHING`,
		menuID, buttonID)
	return mapError("attach button", err)
}

func (g *menuGraph) DetachButton(ctx context.Context, menuID, buttonID int64) error {
	_, err := g.s.db.ExecContext(ctx, `DELETE FROM menu_buttons WHERE menu_id = $1 AND button_id = $2`, menuID, buttonID)
	if err != nil {
		return mapError("detach button", err)
	}
	if _, err := g.Menu(ctx, menuID); errors.Is(err, engine.ErrNotFound) {
		return err
	}
	return nil
}
