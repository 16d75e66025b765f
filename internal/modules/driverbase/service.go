// README: Thin orchestration over Store; FeasibilityEngine calls
// GetBaseForBlock to seed its block simulation's starting position.
package driverbase

import (
	"context"
	"time"

	"ark/internal/apperr"
	"ark/internal/geo"
)

const defaultSearchRadiusKm = 50

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) RegisterBase(ctx context.Context, base Base) error {
	if !base.Location.Valid() {
		return apperr.New(apperr.CodeInternal, "invalid base location", nil)
	}
	return s.store.RegisterBase(ctx, base)
}

// GetBaseForBlock returns the configured home base for a service
// date/direction, falling back to the nearest registered base overall when
// none has been explicitly assigned for that date yet.
func (s *Service) GetBaseForBlock(ctx context.Context, serviceDate time.Time, direction string, fallback geo.Location) (*Base, error) {
	base, err := s.store.GetBaseForBlock(ctx, serviceDate, direction)
	if err != nil {
		return nil, err
	}
	if base != nil {
		return base, nil
	}
	base, err = s.store.NearestBase(ctx, fallback, defaultSearchRadiusKm)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, apperr.New(apperr.CodeNotFound, "no driver base registered", map[string]any{"direction": direction})
	}
	return base, nil
}
