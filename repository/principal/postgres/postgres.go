package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/desain-gratis/realtime/repository/principal"
)

var _ principal.Repository = &handler{}

// Schema of the table read by this repository.
const Schema = `CREATE TABLE IF NOT EXISTS %s (
	user_id     TEXT PRIMARY KEY,
	root        BOOLEAN NOT NULL DEFAULT FALSE,
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	deleted     BOOLEAN NOT NULL DEFAULT FALSE,
	permissions JSONB   NOT NULL DEFAULT '{}'
)`

type handler struct {
	db        *sqlx.DB
	tableName string
	timeoutMs int
}

type row struct {
	UserID      string `db:"user_id"`
	Root        bool   `db:"root"`
	Enabled     bool   `db:"enabled"`
	Deleted     bool   `db:"deleted"`
	Permissions []byte `db:"permissions"`
}

func New(db *sqlx.DB, tableName string, timeoutMs int) *handler {
	return &handler{
		db:        db,
		tableName: tableName,
		timeoutMs: timeoutMs,
	}
}

// Migrate creates the table when missing.
func (h *handler) Migrate(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, fmt.Sprintf(Schema, h.tableName))
	return err
}

func (h *handler) Get(ctx context.Context, userID string) (principal.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(h.timeoutMs)*time.Millisecond)
	defer cancel()

	query := fmt.Sprintf("SELECT user_id, root, enabled, deleted, permissions FROM %s WHERE user_id = $1", h.tableName)

	var r row
	if err := h.db.GetContext(ctx, &r, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return principal.Status{}, principal.ErrNotFound
		}
		return principal.Status{}, err
	}

	status := principal.Status{
		UserID:  r.UserID,
		Root:    r.Root,
		Enabled: r.Enabled,
		Deleted: r.Deleted,
	}
	if len(r.Permissions) > 0 {
		if err := json.Unmarshal(r.Permissions, &status.Permissions); err != nil {
			return principal.Status{}, fmt.Errorf("invalid permissions for %v: %w", userID, err)
		}
	}

	return status, nil
}
