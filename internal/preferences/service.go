package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxKeyLength = 190

var (
	// ErrInvalidKey indicates an empty or oversized storage key.
	ErrInvalidKey = errors.New("preferences: invalid key")
	// ErrInvalidValue indicates a stored value that cannot be decoded into the requested shape.
	ErrInvalidValue = errors.New("preferences: invalid value")
)

// ServiceConfig describes the dependencies required for local storage.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists local storage items and caches reads.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map

	// writeMu serialises writes so read-modify-write updates of list values do not lose entries.
	writeMu sync.Mutex
}

// NewService constructs the local storage service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("preferences: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Get returns the value stored under key and whether it exists.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	normalizedKey, err := validateKey(key)
	if err != nil {
		return "", false, err
	}
	if cached, ok := s.cache.Load(normalizedKey); ok {
		if value, ok := cached.(string); ok {
			return value, true, nil
		}
	}

	var item LocalStorageItem
	err = s.db.WithContext(ctx).Where("item_key = ?", normalizedKey).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("local storage read failed", zap.String("key", normalizedKey), zap.Error(err))
		return "", false, err
	}
	s.cache.Store(normalizedKey, item.Value)
	return item.Value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Service) Set(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.set(ctx, key, value)
}

func (s *Service) set(ctx context.Context, key, value string) error {
	normalizedKey, err := validateKey(key)
	if err != nil {
		return err
	}
	item := LocalStorageItem{Key: normalizedKey, Value: value, UpdatedAt: s.now().UTC()}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"item_value", "updated_at"}),
		}).
		Create(&item).Error
	if err != nil {
		s.cache.Delete(normalizedKey)
		s.logger.Error("local storage write failed", zap.String("key", normalizedKey), zap.Error(err))
		return err
	}
	s.cache.Store(normalizedKey, value)
	return nil
}

// Delete removes key. Removing a missing key is not an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	normalizedKey, err := validateKey(key)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.cache.Delete(normalizedKey)
	return s.db.WithContext(ctx).Where("item_key = ?", normalizedKey).Delete(&LocalStorageItem{}).Error
}

// EnabledEncounters returns the encounter ids the session has unlocked.
func (s *Service) EnabledEncounters(ctx context.Context) ([]string, error) {
	raw, found, err := s.Get(ctx, KeyEnabledEncounters)
	if err != nil {
		return nil, err
	}
	if !found || normalize(raw) == "" {
		return []string{}, nil
	}
	var encounterIDs []string
	if err := json.Unmarshal([]byte(raw), &encounterIDs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, KeyEnabledEncounters, err)
	}
	return encounterIDs, nil
}

// EnableEncounter adds encounterID to the enabled set.
func (s *Service) EnableEncounter(ctx context.Context, encounterID string) ([]string, error) {
	normalizedID := normalize(encounterID)
	if normalizedID == "" {
		return nil, fmt.Errorf("%w: empty encounter id", ErrInvalidValue)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	current, err := s.EnabledEncounters(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range current {
		if existing == normalizedID {
			return current, nil
		}
	}
	updated := append(current, normalizedID)
	encoded, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	if err := s.set(ctx, KeyEnabledEncounters, string(encoded)); err != nil {
		return nil, err
	}
	return updated, nil
}

func validateKey(key string) (string, error) {
	normalizedKey := normalize(key)
	if normalizedKey == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(normalizedKey) > maxKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxKeyLength)
	}
	return normalizedKey, nil
}
