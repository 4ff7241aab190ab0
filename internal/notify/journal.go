package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPollInterval = 500 * time.Millisecond

var errMissingJournalDatabase = errors.New("notify: journal requires a database handle")

// ChangeRow is the persisted change journal entry. The auto-increment sequence
// doubles as the subscriber cursor.
type ChangeRow struct {
	ChangeID         int64   `gorm:"column:change_id;primaryKey;autoIncrement"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index:idx_changes_user_seq,priority:1"`
	EventType        string  `gorm:"column:event_type;size:64;not null"`
	DateKey          string  `gorm:"column:date_key;size:10;not null"`
	SlotID           int64   `gorm:"column:slot_id;not null;default:0"`
	Status           string  `gorm:"column:status;size:32;not null;default:''"`
	Calories         float64 `gorm:"column:calories;not null;default:0"`
	FoodsCSV         string  `gorm:"column:foods_csv;type:text;not null;default:''"`
	AnalysisID       string  `gorm:"column:analysis_id;size:190;not null;default:''"`
	EmittedAtSeconds int64   `gorm:"column:emitted_at_s;not null;index:idx_changes_user_seq,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeRow) TableName() string {
	return "meal_changes"
}

// Journal is the cross-process ChangeNotifier strategy: publishes are durable
// rows, and subscribers observe them by cursor. Delivery is asynchronous and
// carries no ordering guarantee relative to other processes; the entry is a
// hint to re-read, never the value itself.
type Journal struct {
	db           *gorm.DB
	logger       *zap.Logger
	clock        func() time.Time
	pollInterval time.Duration
}

// JournalConfig bundles the dependencies for a Journal.
type JournalConfig struct {
	Database     *gorm.DB
	Logger       *zap.Logger
	Clock        func() time.Time
	PollInterval time.Duration
}

// NewJournal constructs a persisted change journal.
func NewJournal(cfg JournalConfig) (*Journal, error) {
	if cfg.Database == nil {
		return nil, errMissingJournalDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Journal{db: cfg.Database, logger: logger, clock: clock, pollInterval: interval}, nil
}

// Publish appends the change to the journal. Journal writes are best effort:
// a failed append is logged and swallowed so a notification problem never
// turns a successful store write into a user-visible error.
func (j *Journal) Publish(change Change) {
	j.append(change)
}

// append writes the durable row and reports the cursor it was assigned. The
// write deliberately runs outside any request context: publish happens after
// the store write it describes, and a client disconnecting at that point must
// not lose the journal entry other views catch up from.
func (j *Journal) append(change Change) (int64, bool) {
	if change.UserID == "" || change.EventType == "" {
		return 0, false
	}
	row := ChangeRow{
		UserID:           change.UserID,
		EventType:        change.EventType,
		DateKey:          change.DateKey,
		SlotID:           change.SlotID,
		Status:           change.Status,
		Calories:         change.Calories,
		FoodsCSV:         strings.Join(change.Foods, ","),
		AnalysisID:       change.AnalysisID,
		EmittedAtSeconds: j.clock().UTC().Unix(),
	}
	if err := j.db.Create(&row).Error; err != nil {
		j.logger.Warn("change journal append failed",
			zap.String("user_id", change.UserID),
			zap.Int64("slot_id", change.SlotID),
			zap.Error(err))
		return 0, false
	}
	return row.ChangeID, true
}

// Subscribe delivers journal entries by polling the cursor. The cancel func
// (or context cancellation) stops the poll loop and closes the stream.
func (j *Journal) Subscribe(ctx context.Context, userID string) (<-chan Change, func()) {
	stream := make(chan Change, 16)
	if userID == "" {
		close(stream)
		return stream, func() {}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(stream)
		cursor, err := j.latestCursor(pollCtx, userID)
		if err != nil {
			j.logger.Warn("change journal cursor lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		ticker := time.NewTicker(j.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			entries, next, err := j.ChangesAfter(pollCtx, userID, cursor)
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				j.logger.Warn("change journal poll failed", zap.String("user_id", userID), zap.Error(err))
				continue
			}
			cursor = next
			for _, entry := range entries {
				select {
				case stream <- entry:
				case <-pollCtx.Done():
					return
				}
			}
		}
	}()
	return stream, cancel
}

// ChangesAfter returns journal entries past the provided cursor along with the
// advanced cursor position.
func (j *Journal) ChangesAfter(ctx context.Context, userID string, cursor int64) ([]Change, int64, error) {
	var rows []ChangeRow
	if err := j.db.WithContext(ctx).
		Where("user_id = ? AND change_id > ?", userID, cursor).
		Order("change_id ASC").
		Find(&rows).Error; err != nil {
		return nil, cursor, err
	}

	next := cursor
	entries := make([]Change, 0, len(rows))
	for _, row := range rows {
		if row.ChangeID > next {
			next = row.ChangeID
		}
		entries = append(entries, journalEntryToChange(row))
	}
	return entries, next, nil
}

func (j *Journal) latestCursor(ctx context.Context, userID string) (int64, error) {
	var row ChangeRow
	err := j.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("change_id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.ChangeID, nil
}

func journalEntryToChange(row ChangeRow) Change {
	var foods []string
	if row.FoodsCSV != "" {
		foods = strings.Split(row.FoodsCSV, ",")
	}
	return Change{
		ChangeID:   row.ChangeID,
		UserID:     row.UserID,
		EventType:  row.EventType,
		DateKey:    row.DateKey,
		SlotID:     row.SlotID,
		Status:     row.Status,
		Calories:   row.Calories,
		Foods:      foods,
		AnalysisID: row.AnalysisID,
		Timestamp:  time.Unix(row.EmittedAtSeconds, 0).UTC(),
	}
}

// Fanout combines the in-process dispatcher with the durable journal behind
// the single ChangeNotifier interface, so call sites never care which delivery
// mechanism reaches a given view.
type Fanout struct {
	dispatcher *Dispatcher
	journal    *Journal
}

// NewFanout constructs the combined notifier. The journal may be nil when
// durable cross-process delivery is not configured.
func NewFanout(dispatcher *Dispatcher, journal *Journal) *Fanout {
	return &Fanout{dispatcher: dispatcher, journal: journal}
}

// Publish appends to the journal first, then wakes in-process subscribers, so
// the durable record exists before anyone re-reads in response. The cursor the
// journal assigned rides along on the dispatched change, giving live listeners
// a resume point for later catch-up.
func (f *Fanout) Publish(change Change) {
	if f.journal != nil {
		if cursor, ok := f.journal.append(change); ok {
			change.ChangeID = cursor
		}
	}
	if f.dispatcher != nil {
		f.dispatcher.Publish(change)
	}
}

// Subscribe attaches to the in-process dispatcher; journal catch-up is served
// separately through ChangesAfter for subscribers resuming from a cursor.
func (f *Fanout) Subscribe(ctx context.Context, userID string) (<-chan Change, func()) {
	if f.dispatcher != nil {
		return f.dispatcher.Subscribe(ctx, userID)
	}
	ch := make(chan Change)
	close(ch)
	return ch, func() {}
}

// Journal exposes the durable strategy for cursor-based catch-up.
func (f *Fanout) Journal() *Journal {
	return f.journal
}
