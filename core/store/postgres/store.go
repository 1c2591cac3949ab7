// Package postgres persists botengine state in PostgreSQL through sqlx.
// The schema lives in the migrations directory at the repository root.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/botengine/core/engine"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// Store implements engine.Store on a sqlx connection pool.
type Store struct {
	db  *sqlx.DB
	ids engine.IDGenerator

	conversations *conversationStore
	menus         *menuGraph
	messengers    *messengerStore
}

// New wraps db. ids issues primary keys for new rows.
func New(db *sqlx.DB, ids engine.IDGenerator) *Store {
	s := &Store{db: db, ids: ids}
	s.conversations = &conversationStore{s: s}
	s.menus = &menuGraph{s: s}
	s.messengers = &messengerStore{s: s}
	return s
}

// Conversations returns the conversation store.
func (s *Store) Conversations() engine.ConversationStore { return s.conversations }

// Menus returns the menu graph.
func (s *Store) Menus() engine.MenuGraph { return s.menus }

// Messengers returns the messenger store.
func (s *Store) Messengers() engine.MessengerStore { return s.messengers }

// mapError translates driver errors into engine sentinels.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, engine.ErrConflict, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: %w (%s)", op, engine.ErrNotFound, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireRow reports ErrNotFound when an update touched nothing.
func requireRow(op string, res sql.Result, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
