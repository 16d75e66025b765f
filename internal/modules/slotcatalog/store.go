// README: TimeSlot persistence. Postgres is the durable system of record;
// Redis hashes mirror each slot's counters and back a Lua-scripted
// check-and-increment so reserve/release are linearizable per slotId
// without taking a Postgres row lock on the hot path.
package slotcatalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ark/internal/types"
)

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client

	reserveScript *redis.Script
	releaseScript *redis.Script
}

func NewStore(db *pgxpool.Pool, rdb *redis.Client) *Store {
	s := &Store{db: db, redis: rdb}
	s.initScripts()
	return s
}

func (s *Store) initScripts() {
	// KEYS[1] = slot hash key, ARGV[1] = "1" for premium else "0".
	// Returns 1 if the reservation was granted, 0 if the slot rejected it.
	s.reserveScript = redis.NewScript(`
		local premium = ARGV[1] == "1"
		local fragile = redis.call('HGET', KEYS[1], 'fragile') == "1"
		local slot_type = redis.call('HGET', KEYS[1], 'slot_type')
		if premium then
			local used = tonumber(redis.call('HGET', KEYS[1], 'used_premium'))
			local max = tonumber(redis.call('HGET', KEYS[1], 'max_premium'))
			if used >= max then return 0 end
			redis.call('HINCRBY', KEYS[1], 'used_premium', 1)
			return 1
		end
		if fragile then return 0 end
		if slot_type ~= 'off_peak' then return 0 end
		local used = tonumber(redis.call('HGET', KEYS[1], 'used_non_premium'))
		local max = tonumber(redis.call('HGET', KEYS[1], 'max_non_premium'))
		if used >= max then return 0 end
		redis.call('HINCRBY', KEYS[1], 'used_non_premium', 1)
		return 1
	`)

	// KEYS[1] = slot hash key, ARGV[1] = "1" for premium else "0". Clamps at 0.
	s.releaseScript = redis.NewScript(`
		local field = 'used_non_premium'
		if ARGV[1] == "1" then field = 'used_premium' end
		local used = tonumber(redis.call('HGET', KEYS[1], field))
		if used and used > 0 then
			redis.call('HINCRBY', KEYS[1], field, -1)
		end
		return 1
	`)
}

func slotHashKey(id types.SlotID) string {
	return fmt.Sprintf("slot:{%s}", id)
}

func premiumFlag(isPremium bool) string {
	if isPremium {
		return "1"
	}
	return "0"
}

func (s *Store) InsertSlots(ctx context.Context, slots []*TimeSlot) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, slot := range slots {
		_, err := tx.Exec(ctx, `
            INSERT INTO time_slots (
                id, service_date, direction, slot_type, arrival_start, arrival_end,
                max_riders_premium, used_riders_premium, max_riders_non_premium, used_riders_non_premium, fragile
            ) VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,0,false)
            ON CONFLICT (id) DO NOTHING`,
			string(slot.ID), slot.ServiceDate, string(slot.Direction), string(slot.SlotType),
			slot.ArrivalStart, slot.ArrivalEnd, slot.MaxRidersPremium, slot.MaxRidersNonPremium,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetSlotsForDate(ctx context.Context, serviceDate time.Time, direction *Direction) ([]*TimeSlot, error) {
	query := `
        SELECT id, service_date, direction, slot_type, arrival_start, arrival_end,
               max_riders_premium, used_riders_premium, max_riders_non_premium, used_riders_non_premium, fragile
        FROM time_slots WHERE service_date = $1`
	args := []any{serviceDate}
	if direction != nil {
		query += " AND direction = $2"
		args = append(args, string(*direction))
	}
	query += " ORDER BY direction, arrival_start"

	pgxRows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer pgxRows.Close()

	var out []*TimeSlot
	for pgxRows.Next() {
		slot, err := scanSlot(pgxRows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, pgxRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*TimeSlot, error) {
	var slot TimeSlot
	var id, direction, slotType string
	if err := row.Scan(
		&id, &slot.ServiceDate, &direction, &slotType, &slot.ArrivalStart, &slot.ArrivalEnd,
		&slot.MaxRidersPremium, &slot.UsedRidersPremium, &slot.MaxRidersNonPremium, &slot.UsedRidersNonPremium, &slot.Fragile,
	); err != nil {
		return nil, err
	}
	slot.ID = types.SlotID(id)
	slot.Direction = Direction(direction)
	slot.SlotType = SlotType(slotType)
	return &slot, nil
}

func (s *Store) GetSlotByID(ctx context.Context, id types.SlotID) (*TimeSlot, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, service_date, direction, slot_type, arrival_start, arrival_end,
               max_riders_premium, used_riders_premium, max_riders_non_premium, used_riders_non_premium, fragile
        FROM time_slots WHERE id = $1`, string(id))

	slot, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// ensureCached loads the slot's counters into Redis if the hash is absent.
// The existence check and the seeding run in one script, so when two callers
// race on a cold slot only the first seeds the hash and the second never
// overwrites counters a reservation has already moved.
func (s *Store) ensureCached(ctx context.Context, id types.SlotID) error {
	key := slotHashKey(id)
	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 1 {
		return nil
	}
	slot, err := s.GetSlotByID(ctx, id)
	if err != nil {
		return err
	}
	if slot == nil {
		return fmt.Errorf("slotcatalog: slot %s not found", id)
	}
	return s.redis.Eval(ctx, `
		if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
		redis.call('HSET', KEYS[1], unpack(ARGV))
		return 1
	`, []string{key},
		"used_premium", slot.UsedRidersPremium,
		"max_premium", slot.MaxRidersPremium,
		"used_non_premium", slot.UsedRidersNonPremium,
		"max_non_premium", slot.MaxRidersNonPremium,
		"fragile", premiumFlag(slot.Fragile),
		"slot_type", string(slot.SlotType),
	).Err()
}

func (s *Store) ReserveCapacity(ctx context.Context, id types.SlotID, isPremium bool) (bool, error) {
	if err := s.ensureCached(ctx, id); err != nil {
		return false, err
	}
	key := slotHashKey(id)
	granted, err := s.reserveScript.Run(ctx, s.redis, []string{key}, premiumFlag(isPremium)).Int()
	if err != nil {
		return false, err
	}
	if granted == 0 {
		return false, nil
	}

	column := "used_riders_non_premium"
	if isPremium {
		column = "used_riders_premium"
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`
        UPDATE time_slots SET %s = %s + 1 WHERE id = $1`, column, column), string(id))
	if err != nil || tag.RowsAffected() == 0 {
		// Roll back the Redis grant so the cache doesn't drift from the
		// durable record.
		s.releaseScript.Run(ctx, s.redis, []string{key}, premiumFlag(isPremium))
		if err != nil {
			return false, err
		}
		return false, fmt.Errorf("slotcatalog: slot %s vanished during reserve", id)
	}
	return true, nil
}

func (s *Store) ReleaseCapacity(ctx context.Context, id types.SlotID, isPremium bool) error {
	if err := s.ensureCached(ctx, id); err != nil {
		return err
	}
	key := slotHashKey(id)
	if err := s.releaseScript.Run(ctx, s.redis, []string{key}, premiumFlag(isPremium)).Err(); err != nil {
		return err
	}

	column := "used_riders_non_premium"
	if isPremium {
		column = "used_riders_premium"
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
        UPDATE time_slots SET %s = GREATEST(%s - 1, 0) WHERE id = $1`, column, column), string(id))
	return err
}

func (s *Store) SetFragility(ctx context.Context, id types.SlotID, fragile bool) error {
	_, err := s.db.Exec(ctx, `UPDATE time_slots SET fragile = $2 WHERE id = $1`, string(id), fragile)
	if err != nil {
		return err
	}
	if err := s.ensureCached(ctx, id); err != nil {
		return err
	}
	return s.redis.HSet(ctx, slotHashKey(id), "fragile", premiumFlag(fragile)).Err()
}

func (s *Store) SetMaxNonPremium(ctx context.Context, id types.SlotID, max int) error {
	_, err := s.db.Exec(ctx, `UPDATE time_slots SET max_riders_non_premium = $2 WHERE id = $1`, string(id), max)
	if err != nil {
		return err
	}
	if err := s.ensureCached(ctx, id); err != nil {
		return err
	}
	return s.redis.HSet(ctx, slotHashKey(id), "max_non_premium", max).Err()
}
