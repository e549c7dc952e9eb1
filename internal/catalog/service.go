package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

// Store abstracts catalog persistence.
type Store interface {
	BoxLookup
	ListBoxes(ctx context.Context, includeInactive bool) ([]Box, error)
	UpsertBox(ctx context.Context, box Box) (Box, error)
	DeactivateBox(ctx context.Context, code string) error
	LocationByCode(ctx context.Context, code string) (Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
}

type cachedLocation struct {
	loc     Location
	expires time.Time
}

// Service exposes box maintenance and cached location lookups.
type Service struct {
	store    Store
	resolver *Resolver
	ttl      time.Duration
	group    singleflight.Group
	mu       sync.RWMutex
	cache    map[string]cachedLocation
	now      func() time.Time
}

// NewService constructs Service. Location rows are cached for ttl; zero disables caching.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{
		store:    store,
		resolver: NewResolver(store),
		ttl:      ttl,
		cache:    make(map[string]cachedLocation),
		now:      time.Now,
	}
}

// Resolver returns the code resolver backed by this catalog.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Location returns the active location for code. Concurrent lookups of the same
// code share one query.
func (s *Service) Location(ctx context.Context, code string) (Location, error) {
	code = Normalize(code)
	if code == "" {
		return Location{}, ErrLocationNotFound
	}
	if loc, ok := s.cached(code); ok {
		return loc, nil
	}
	v, err, _ := s.group.Do(code, func() (interface{}, error) {
		loc, err := s.store.LocationByCode(ctx, code)
		if err != nil {
			return Location{}, err
		}
		if s.ttl > 0 {
			s.mu.Lock()
			s.cache[code] = cachedLocation{loc: loc, expires: s.now().Add(s.ttl)}
			s.mu.Unlock()
		}
		return loc, nil
	})
	if err != nil {
		return Location{}, err
	}
	return v.(Location), nil
}

func (s *Service) cached(code string) (Location, bool) {
	if s.ttl <= 0 {
		return Location{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[code]
	if !ok || s.now().After(entry.expires) {
		return Location{}, false
	}
	return entry.loc, true
}

// Locations lists active locations.
func (s *Service) Locations(ctx context.Context) ([]Location, error) {
	return s.store.ListLocations(ctx)
}

// Boxes lists the box catalog.
func (s *Service) Boxes(ctx context.Context, includeInactive bool) ([]Box, error) {
	return s.store.ListBoxes(ctx, includeInactive)
}

// SaveBox validates and upserts a box.
func (s *Service) SaveBox(ctx context.Context, box Box) (Box, error) {
	box.Code = Normalize(box.Code)
	box.SKU = Normalize(box.SKU)
	if err := validateBox(box); err != nil {
		return Box{}, err
	}
	return s.store.UpsertBox(ctx, box)
}

// DeleteBox soft-deletes a box.
func (s *Service) DeleteBox(ctx context.Context, code string) error {
	return s.store.DeactivateBox(ctx, Normalize(code))
}

func validateBox(box Box) error {
	if box.Code == "" {
		return fmt.Errorf("box code is required: %w", shared.ErrValidation)
	}
	if box.SKU == "" {
		return fmt.Errorf("box sku is required: %w", shared.ErrValidation)
	}
	if strings.EqualFold(box.Code, box.SKU) {
		return fmt.Errorf("box code must differ from its sku: %w", shared.ErrValidation)
	}
	if box.QtyPerBox <= 0 {
		return fmt.Errorf("qty per box must be greater than zero: %w", shared.ErrValidation)
	}
	return nil
}
