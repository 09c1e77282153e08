package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relay/internal/domain"
)

// GetRuntimePorts loads the singleton RuntimePorts row, or nil if none has
// been persisted yet (the supervisor records the bound ports on every
// startup, so the row is missing only before the first one).
func (s *Store) GetRuntimePorts(ctx context.Context) (*domain.RuntimePorts, error) {
	var p domain.RuntimePorts
	row := s.db.QueryRowContext(ctx,
		`SELECT receiver_port, publisher_port, generated_at FROM runtime_ports WHERE id = 1`,
	)
	if err := row.Scan(&p.ReceiverPort, &p.PublisherPort, &p.GeneratedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get runtime ports: %w", err)
	}
	return &p, nil
}

// SaveRuntimePorts persists the actually-bound ports, overwriting whatever
// was recorded before. The supervisor calls it on every startup, once both
// sockets are bound.
func (s *Store) SaveRuntimePorts(ctx context.Context, receiverPort, publisherPort int) (*domain.RuntimePorts, error) {
	now := time.Now().UTC()
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runtime_ports (id, receiver_port, publisher_port, generated_at)
			VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				receiver_port  = excluded.receiver_port,
				publisher_port = excluded.publisher_port,
				generated_at   = excluded.generated_at`,
			receiverPort, publisherPort, now,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: save runtime ports: %w", err)
	}
	return &domain.RuntimePorts{ReceiverPort: receiverPort, PublisherPort: publisherPort, GeneratedAt: now}, nil
}
