package webhook

import (
	"context"
	"time"

	"github.com/gdbrns/go-whatsapp-sender/pkg/datastore"
)

// Store records delivery attempts so operators can see why a notification
// never arrived.
type Store struct {
	db *datastore.DB
}

func NewStore(ctx context.Context, db *datastore.DB) (*Store, error) {
	s := &Store{db: db}
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.Dialect == datastore.DialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id `+idColumn+`,
		url TEXT NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) LogDelivery(ctx context.Context, url string, eventType EventType, status DeliveryStatus, attemptCount int, lastError string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO webhook_deliveries (url, event_type, status, attempt_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), url, string(eventType), string(status), attemptCount, lastError, time.Now().UnixMilli())
	return err
}

func (s *Store) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, url, event_type, status, attempt_count, last_error, created_at
		FROM webhook_deliveries
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []DeliveryLog
	for rows.Next() {
		var (
			entry     DeliveryLog
			eventType string
			status    string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.URL, &eventType, &status, &entry.AttemptCount, &entry.LastError, &createdAt); err != nil {
			return nil, err
		}
		entry.EventType = EventType(eventType)
		entry.Status = DeliveryStatus(status)
		entry.CreatedAt = time.UnixMilli(createdAt)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
