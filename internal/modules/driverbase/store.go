// README: Postgres holds the canonical base per (serviceDate, direction);
// Redis GEO mirrors every base's coordinates for nearest-base lookups, the
// same GeoAdd/GeoSearch pattern driver-candidate matching used.
package driverbase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ark/internal/geo"
)

const baseGeoKey = "driver_bases:geo"

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, rdb *redis.Client) *Store {
	return &Store{db: db, redis: rdb}
}

func (s *Store) RegisterBase(ctx context.Context, base Base) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO driver_bases (id, service_date, direction, label, lat, lng, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (service_date, direction) DO UPDATE SET
            id = EXCLUDED.id, label = EXCLUDED.label, lat = EXCLUDED.lat, lng = EXCLUDED.lng, updated_at = EXCLUDED.updated_at`,
		base.ID, base.ServiceDate, base.Direction, base.Label, base.Location.Lat, base.Location.Lng, time.Now(),
	)
	if err != nil {
		return err
	}
	return s.redis.GeoAdd(ctx, baseGeoKey, &redis.GeoLocation{
		Name:      base.ID,
		Longitude: base.Location.Lng,
		Latitude:  base.Location.Lat,
	}).Err()
}

func (s *Store) GetBaseForBlock(ctx context.Context, serviceDate time.Time, direction string) (*Base, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, service_date, direction, label, lat, lng, updated_at
        FROM driver_bases WHERE service_date = $1 AND direction = $2`, serviceDate, direction)

	var base Base
	err := row.Scan(&base.ID, &base.ServiceDate, &base.Direction, &base.Label, &base.Location.Lat, &base.Location.Lng, &base.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &base, nil
}

// NearestBase returns the closest registered base (any date/direction) to
// point within radiusKm, nearest first.
func (s *Store) NearestBase(ctx context.Context, point geo.Location, radiusKm float64) (*Base, error) {
	results, err := s.redis.GeoSearch(ctx, baseGeoKey, &redis.GeoSearchQuery{
		Longitude:  point.Lng,
		Latitude:   point.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
		Count:      1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return s.getByID(ctx, results[0])
}

func (s *Store) getByID(ctx context.Context, id string) (*Base, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, service_date, direction, label, lat, lng, updated_at
        FROM driver_bases WHERE id = $1`, id)

	var base Base
	err := row.Scan(&base.ID, &base.ServiceDate, &base.Direction, &base.Label, &base.Location.Lat, &base.Location.Lng, &base.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &base, nil
}
