// README: Premium subscriber counter. A single row, CAS-incremented the
// same way order.Store advances status_version: conditional UPDATE, zero
// rows affected means someone else already claimed the ceiling.
package capacity

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriberStore struct {
	db *pgxpool.Pool
}

func NewSubscriberStore(db *pgxpool.Pool) *SubscriberStore {
	return &SubscriberStore{db: db}
}

func (s *SubscriberStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
        INSERT INTO premium_subscriber_counter (id, count) VALUES (1, 0)
        ON CONFLICT (id) DO UPDATE SET id = premium_subscriber_counter.id
        RETURNING count`).Scan(&count)
	return count, err
}

func (s *SubscriberStore) TryIncrement(ctx context.Context, ceiling int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        INSERT INTO premium_subscriber_counter (id, count) VALUES (1, 1)
        ON CONFLICT (id) DO UPDATE SET count = premium_subscriber_counter.count + 1
        WHERE premium_subscriber_counter.count < $1`, ceiling)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
