package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/liveclass/internal/models"
)

var errDatabaseStoreNil = errors.New("cache: database store not initialised")

// DatabaseStore implements Store on the primary SQL database so that reminder marks
// and credentials survive restarts and are shared between replicas.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DatabaseOption customises a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithDatabaseClock overrides the clock used for expiry (test helper).
func WithDatabaseClock(now func() time.Time) DatabaseOption {
	return func(s *DatabaseStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseOption) *DatabaseStore {
	if db == nil {
		return nil
	}
	store := &DatabaseStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// IncrementWithTTL atomically increments a counter for the supplied key.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errDatabaseStoreNil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	var (
		count  int64
		expiry time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(keyEquals(key)).
			Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count = 1
			expiry = now.Add(window)
			entry = models.CacheEntry{
				Key:       key,
				Value:     []byte("1"),
				ExpiresAt: expiry,
			}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}

		if !entry.ExpiresAt.After(now) {
			count = 1
			expiry = now.Add(window)
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
			// The window is fixed at first claim; later increments keep its expiry.
			expiry = entry.ExpiresAt
		}
		entry.Value = []byte(strconv.FormatInt(count, 10))
		entry.ExpiresAt = expiry

		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return count, expiry.Sub(now), nil
}

// Set upserts the value for a given key with expiry. A non-positive ttl never expires.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	expiry := time.Time{}
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiry,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errDatabaseStoreNil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(keyEquals(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !entry.ExpiresAt.IsZero() && !s.now().Before(entry.ExpiresAt) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	if len(keys) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = key
	}
	return s.db.WithContext(ctx).
		Where(clause.IN{Column: clause.Column{Name: "key"}, Values: values}).
		Delete(&models.CacheEntry{}).Error
}

// PurgeExpired drops rows whose expiry has passed and returns how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errDatabaseStoreNil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	result := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", time.Unix(0, 0).UTC(), s.now()).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

// keyEquals quotes the column name; "key" is reserved in MySQL.
func keyEquals(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}
