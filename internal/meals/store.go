package meals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DayStore is the persistence boundary for day records. It is constructed once
// and handed to collaborators by reference; nothing reaches storage through
// ambient key concatenation.
type DayStore interface {
	// Read returns the stored record for a date, reporting absence explicitly.
	// Missing keys and undecodable payloads are absence, never an error.
	Read(ctx context.Context, userID UserID, key DateKey) (DayRecord, bool, error)
	// Write persists the record, fully overwriting the value at its key.
	Write(ctx context.Context, userID UserID, record DayRecord) error
	// Archive moves a finished day's record into the history collection.
	Archive(ctx context.Context, userID UserID, record DayRecord) error
	// ListHistory returns archived records, most recent date first.
	ListHistory(ctx context.Context, userID UserID) ([]DayRecord, error)
	// LatestDateKey reports the most recent date key holding a working record.
	LatestDateKey(ctx context.Context, userID UserID) (DateKey, bool, error)
}

var errMissingStoreDatabase = errors.New("meals: day store requires a database handle")

// SQLiteDayStore persists day records through GORM.
type SQLiteDayStore struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// DayStoreConfig bundles the dependencies for a SQLiteDayStore.
type DayStoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	Clock    func() time.Time
}

// NewDayStore constructs a SQLiteDayStore.
func NewDayStore(cfg DayStoreConfig) (*SQLiteDayStore, error) {
	if cfg.Database == nil {
		return nil, errMissingStoreDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteDayStore{db: cfg.Database, logger: logger, clock: clock}, nil
}

// Read implements DayStore.
func (s *SQLiteDayStore) Read(ctx context.Context, userID UserID, key DateKey) (DayRecord, bool, error) {
	var row DayRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date_key = ?", userID.String(), key.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DayRecord{DateKey: key}, false, nil
	}
	if err != nil {
		return DayRecord{}, false, fmt.Errorf("meals: read day record: %w", err)
	}

	record, decodeErr := s.decodeRow(row)
	if decodeErr != nil {
		// Undecodable payloads behave like missing keys.
		s.logger.Warn("discarding undecodable day record",
			zap.String("user_id", userID.String()),
			zap.String("date_key", key.String()),
			zap.Error(decodeErr))
		return DayRecord{DateKey: key}, false, nil
	}
	return record, true, nil
}

// Write implements DayStore.
func (s *SQLiteDayStore) Write(ctx context.Context, userID UserID, record DayRecord) error {
	slotsJSON, err := json.Marshal(record.Slots)
	if err != nil {
		return fmt.Errorf("meals: encode day record: %w", err)
	}

	appliedAt := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DayRow
		var existingPtr *DayRow
		lookupErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND date_key = ?", userID.String(), record.DateKey.String()).
			Take(&existing).Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if lookupErr != nil {
			return fmt.Errorf("meals: load day record: %w", lookupErr)
		} else {
			existingPtr = &existing
		}

		outcome := resolveDayWrite(existingPtr, userID, record, string(slotsJSON), appliedAt)
		if !outcome.Accepted {
			// A newer writer already won; the caller re-reads on the next signal.
			return nil
		}
		if saveErr := tx.Save(&outcome.Row).Error; saveErr != nil {
			return fmt.Errorf("meals: save day record: %w", saveErr)
		}
		return nil
	})
}

// Archive implements DayStore.
func (s *SQLiteDayStore) Archive(ctx context.Context, userID UserID, record DayRecord) error {
	slotsJSON, err := json.Marshal(record.Slots)
	if err != nil {
		return fmt.Errorf("meals: encode archived day: %w", err)
	}

	archiveRow := DayArchiveRow{
		UserID:            userID.String(),
		DateKey:           record.DateKey.String(),
		SlotsJSON:         string(slotsJSON),
		CaloriesTotal:     record.CaloriesTotal,
		ArchivedAtSeconds: s.clock().UTC().Unix(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if createErr := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&archiveRow).Error; createErr != nil {
			return fmt.Errorf("meals: archive day record: %w", createErr)
		}
		deleteErr := tx.
			Where("user_id = ? AND date_key = ?", userID.String(), record.DateKey.String()).
			Delete(&DayRow{}).Error
		if deleteErr != nil {
			return fmt.Errorf("meals: remove rolled-over day record: %w", deleteErr)
		}
		return nil
	})
}

// ListHistory implements DayStore.
func (s *SQLiteDayStore) ListHistory(ctx context.Context, userID UserID) ([]DayRecord, error) {
	var rows []DayArchiveRow
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("date_key DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("meals: list day history: %w", err)
	}

	records := make([]DayRecord, 0, len(rows))
	for _, row := range rows {
		key, keyErr := NewDateKey(row.DateKey)
		if keyErr != nil {
			s.logger.Warn("skipping history row with invalid date key",
				zap.String("user_id", userID.String()),
				zap.String("date_key", row.DateKey))
			continue
		}
		record := DayRecord{
			DateKey:       key,
			CaloriesTotal: row.CaloriesTotal,
		}
		if unmarshalErr := json.Unmarshal([]byte(row.SlotsJSON), &record.Slots); unmarshalErr != nil {
			s.logger.Warn("history row has undecodable slots",
				zap.String("user_id", userID.String()),
				zap.String("date_key", row.DateKey),
				zap.Error(unmarshalErr))
			record.Slots = nil
		}
		records = append(records, record)
	}
	return records, nil
}

// LatestDateKey implements DayStore.
func (s *SQLiteDayStore) LatestDateKey(ctx context.Context, userID UserID) (DateKey, bool, error) {
	var row DayRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("date_key DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("meals: find latest day record: %w", err)
	}
	key, keyErr := NewDateKey(row.DateKey)
	if keyErr != nil {
		return "", false, nil
	}
	return key, true, nil
}

func (s *SQLiteDayStore) decodeRow(row DayRow) (DayRecord, error) {
	key, err := NewDateKey(row.DateKey)
	if err != nil {
		return DayRecord{}, err
	}
	record := DayRecord{
		DateKey:          key,
		CaloriesTotal:    row.CaloriesTotal,
		Revision:         row.Revision,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}
	if err := json.Unmarshal([]byte(row.SlotsJSON), &record.Slots); err != nil {
		return DayRecord{}, err
	}
	return record, nil
}
