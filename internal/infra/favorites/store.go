// Package favorites stores each user's liked tracks with gorm.
package favorites

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/osa030/voicebox/internal/domain/track"
)

var (
	ErrIndexOutOfRange = errors.New("favorite index out of range")
)

// Favorite is a liked track. Stream locators expire, so only display metadata is kept
// and the track is resolved again when played.
type Favorite struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     string `gorm:"index;not null"`
	Title      string `gorm:"not null"`
	Author     string
	URL        string
	Thumbnail  string
	Query      string
	DurationMs int64
	CreatedAt  time.Time
}

// PlayQuery returns the query used to resolve the favorite again.
func (f Favorite) PlayQuery() string {
	if f.URL != "" {
		return f.URL
	}
	if f.Query != "" {
		return f.Query
	}
	if f.Author != "" {
		return f.Author + " - " + f.Title
	}
	return f.Title
}

// Store persists favorites.
type Store struct {
	db *gorm.DB
}

// Open opens a sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open favorites database")
	}

	// sqlite allows one writer; ":memory:" also needs a single connection to keep its data
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database handle")
	}
	sqlDB.SetMaxOpenConns(1)

	return NewStore(db)
}

// NewStore creates a store on an existing connection and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Favorite{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate favorites")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Track returns the favorite as an unresolved track for display.
func (f Favorite) Track() track.Source {
	return track.Source{
		Title:        f.Title,
		Author:       f.Author,
		URL:          f.URL,
		ThumbnailURL: f.Thumbnail,
		Duration:     time.Duration(f.DurationMs) * time.Millisecond,
		Query:        f.PlayQuery(),
	}
}

// Add appends t to the user's favorites.
func (s *Store) Add(ctx context.Context, userID string, t track.Source) (Favorite, error) {
	fav := Favorite{
		UserID:     userID,
		Title:      t.Title,
		Author:     t.Author,
		URL:        t.URL,
		Thumbnail:  t.ThumbnailURL,
		Query:      t.Query,
		DurationMs: t.Duration.Milliseconds(),
	}
	if err := s.db.WithContext(ctx).Create(&fav).Error; err != nil {
		return Favorite{}, errors.Wrap(err, "failed to add favorite")
	}
	return fav, nil
}

// List returns the user's favorites in the order they were added.
func (s *Store) List(ctx context.Context, userID string) ([]Favorite, error) {
	var favs []Favorite
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&favs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list favorites")
	}
	return favs, nil
}

// Get returns the favorite at a 1-based position in the user's list.
func (s *Store) Get(ctx context.Context, userID string, index int) (Favorite, error) {
	if index < 1 {
		return Favorite{}, ErrIndexOutOfRange
	}

	var fav Favorite
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Offset(index - 1).
		First(&fav).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Favorite{}, ErrIndexOutOfRange
	}
	if err != nil {
		return Favorite{}, errors.Wrap(err, "failed to get favorite")
	}
	return fav, nil
}

// Remove deletes the favorite at a 1-based position and returns it.
func (s *Store) Remove(ctx context.Context, userID string, index int) (Favorite, error) {
	var removed Favorite
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := &Store{db: tx}
		fav, err := store.Get(ctx, userID, index)
		if err != nil {
			return err
		}
		if err := tx.Delete(&Favorite{}, fav.ID).Error; err != nil {
			return errors.Wrap(err, "failed to delete favorite")
		}
		removed = fav
		return nil
	})
	if err != nil {
		return Favorite{}, err
	}
	return removed, nil
}
