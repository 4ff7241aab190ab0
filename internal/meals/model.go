package meals

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SlotStatus enumerates the completion states of a meal slot.
type SlotStatus string

const (
	// StatusUpcoming marks a slot that has not been confirmed today.
	StatusUpcoming SlotStatus = "upcoming"
	// StatusCompleted marks a slot the user confirmed as eaten.
	StatusCompleted SlotStatus = "completed"
)

const (
	maxIdentifierLength = 190
	dateKeyLayout       = "2006-01-02"
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("meals: invalid user id")
	// ErrInvalidDateKey indicates that a date key is not a calendar date in YYYY-MM-DD form.
	ErrInvalidDateKey = errors.New("meals: invalid date key")
	// ErrInvalidSlotID indicates that a slot identifier is not positive.
	ErrInvalidSlotID = errors.New("meals: invalid slot id")
	// ErrUnknownSlot indicates that a slot identifier has no entry in the day template.
	ErrUnknownSlot = errors.New("meals: slot not present in template")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// DateKey represents a validated calendar date key in YYYY-MM-DD form.
// Date keys order lexicographically the same way they order chronologically.
type DateKey string

// NewDateKey validates raw input and returns a DateKey.
func NewDateKey(rawInput string) (DateKey, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDateKey)
	}
	parsed, err := time.Parse(dateKeyLayout, trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDateKey, trimmed)
	}
	if parsed.Format(dateKeyLayout) != trimmed {
		return "", fmt.Errorf("%w: %q", ErrInvalidDateKey, trimmed)
	}
	return DateKey(trimmed), nil
}

// DateKeyFor derives the date key for the provided instant in its location.
func DateKeyFor(instant time.Time) DateKey {
	return DateKey(instant.Format(dateKeyLayout))
}

// String returns the underlying date key string.
func (key DateKey) String() string {
	return string(key)
}

// Before reports whether the key's calendar date precedes the other key's date.
func (key DateKey) Before(other DateKey) bool {
	return string(key) < string(other)
}

// SlotID represents a validated meal slot identifier from the day template.
type SlotID int64

// NewSlotID validates the value and returns a SlotID.
func NewSlotID(value int64) (SlotID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlotID, value)
	}
	return SlotID(value), nil
}

// Int64 exposes the raw slot identifier.
func (id SlotID) Int64() int64 {
	return int64(id)
}

// NutritionFacts captures the macro snapshot attached to a slot or analysis.
type NutritionFacts struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// SlotState is the per-slot portion of a persisted DayRecord: identity plus
// whatever storage is allowed to refine (status, applied calories, linkage).
// The template owns everything else about a slot.
type SlotState struct {
	SlotID          int64      `json:"slotId"`
	Status          SlotStatus `json:"status"`
	AppliedCalories float64    `json:"appliedCalories,omitempty"`
	AnalysisID      string     `json:"analysisId,omitempty"`
	Foods           []string   `json:"foods,omitempty"`
}

// DayRecord is the persisted unit keyed by user and calendar date.
type DayRecord struct {
	DateKey          DateKey
	Slots            []SlotState
	CaloriesTotal    float64
	Revision         int64
	UpdatedAtSeconds int64
}

func (record *DayRecord) stateFor(slotID SlotID) *SlotState {
	for index := range record.Slots {
		if record.Slots[index].SlotID == slotID.Int64() {
			return &record.Slots[index]
		}
	}
	record.Slots = append(record.Slots, SlotState{SlotID: slotID.Int64(), Status: StatusUpcoming})
	return &record.Slots[len(record.Slots)-1]
}

// MealSlot is the reconciled in-memory view of one template slot for a day.
type MealSlot struct {
	ID              SlotID
	Name            string
	ScheduledAt     string
	Status          SlotStatus
	Nutrition       NutritionFacts
	AppliedCalories float64
	AnalysisID      string
	Foods           []string
}

// DayView is the authoritative merged view of a single day.
type DayView struct {
	DateKey       DateKey
	Slots         []MealSlot
	CaloriesTotal float64
}

// DayRow stores the working DayRecord for a user's current day.
type DayRow struct {
	UserID           string  `gorm:"column:user_id;primaryKey;size:190;not null"`
	DateKey          string  `gorm:"column:date_key;primaryKey;size:10;not null;index:idx_days_user_date,priority:2"`
	SlotsJSON        string  `gorm:"column:slots_json;type:text;not null"`
	CaloriesTotal    float64 `gorm:"column:calories_total;not null;default:0"`
	Revision         int64   `gorm:"column:revision;not null;default:0"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DayRow) TableName() string {
	return "day_records"
}

// DayArchiveRow stores an archived DayRecord after rollover.
type DayArchiveRow struct {
	UserID            string  `gorm:"column:user_id;primaryKey;size:190;not null"`
	DateKey           string  `gorm:"column:date_key;primaryKey;size:10;not null"`
	SlotsJSON         string  `gorm:"column:slots_json;type:text;not null"`
	CaloriesTotal     float64 `gorm:"column:calories_total;not null;default:0"`
	ArchivedAtSeconds int64   `gorm:"column:archived_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DayArchiveRow) TableName() string {
	return "day_history"
}

// AnalysisRow stores one AI-derived nutrition estimate. Rows accumulate;
// nothing in these flows deletes them.
type AnalysisRow struct {
	AnalysisID       string  `gorm:"column:analysis_id;primaryKey;size:190;not null"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index:idx_analyses_user_slot,priority:1;uniqueIndex:idx_analyses_dedupe,priority:1"`
	PayloadHash      string  `gorm:"column:payload_hash;size:64;not null;uniqueIndex:idx_analyses_dedupe,priority:2"`
	FoodName         string  `gorm:"column:food_name;size:320;not null"`
	Calories         float64 `gorm:"column:calories;not null;default:0"`
	Protein          float64 `gorm:"column:protein;not null;default:0"`
	Carbs            float64 `gorm:"column:carbs;not null;default:0"`
	Fat              float64 `gorm:"column:fat;not null;default:0"`
	Fiber            float64 `gorm:"column:fiber;not null;default:0"`
	Confidence       float64 `gorm:"column:confidence;not null;default:0"`
	SlotID           *int64  `gorm:"column:slot_id;index:idx_analyses_user_slot,priority:2"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AnalysisRow) TableName() string {
	return "meal_analyses"
}
