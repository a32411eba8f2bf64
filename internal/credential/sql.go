package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gdbrns/go-whatsapp-sender/pkg/datastore"
)

// DefaultSessionKey names the single row used by this service.
const DefaultSessionKey = "default"

// SQLStore keeps credentials in the session_credentials table, next to the
// whatsmeow device tables when both share one database.
type SQLStore struct {
	db  *datastore.DB
	key string
}

func NewSQLStore(ctx context.Context, db *datastore.DB, key string) (*SQLStore, error) {
	if key == "" {
		key = DefaultSessionKey
	}
	s := &SQLStore{db: db, key: key}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS session_credentials (
		session_key TEXT PRIMARY KEY,
		data ` + s.db.BlobType() + ` NOT NULL,
		updated_at BIGINT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create session_credentials: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT data FROM session_credentials WHERE session_key = ?`), s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (s *SQLStore) Save(ctx context.Context, creds []byte) error {
	query := s.db.Rebind(`INSERT INTO session_credentials (session_key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, s.key, creds, time.Now().Unix()); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM session_credentials WHERE session_key = ?`), s.key); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
