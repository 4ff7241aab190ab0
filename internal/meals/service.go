package meals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nutrilog/daybook/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "meals.service.new"
	opToday          = "meals.today"
	opConfirm        = "meals.confirm_slot"
	opUndo           = "meals.undo_slot"
	opHistory        = "meals.list_history"
	opRollover       = "meals.rollover"
	opRecordAnalysis = "meals.record_analysis"
	opListAnalyses   = "meals.list_analyses"

	fieldUserID  = "user_id"
	fieldDateKey = "date_key"
	fieldSlotID  = "slot_id"

	reasonMissingDatabase    = "missing_database"
	reasonUnknownSlot        = "unknown_slot"
	reasonReadFailed         = "day_read_failed"
	reasonWriteFailed        = "day_write_failed"
	reasonQueryFailed        = "query_failed"
	reasonStaleDayReadFailed = "stale_day_read_failed"
	reasonArchiveFailed      = "archive_failed"
	reasonLatestKeyFailed    = "latest_key_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for locally synthesized records.
type IDProvider interface {
	NewID() (string, error)
}

// RemoteSink is the best-effort remote persistence boundary for analysis
// records. Failures must never block local flows.
type RemoteSink interface {
	UpsertAnalysis(ctx context.Context, userID string, record AnalysisRecord) error
}

// ServiceConfig bundles the dependencies of the meal tracking service.
type ServiceConfig struct {
	Database   *gorm.DB
	Store      DayStore
	Template   Template
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Notifier   notify.ChangeNotifier
	Remote     RemoteSink
}

// Service reconciles the fixed day template with stored per-day state and
// applies confirm/undo transitions.
type Service struct {
	db         *gorm.DB
	store      DayStore
	template   Template
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	notifier   notify.ChangeNotifier
	remote     RemoteSink
}

// NewService constructs the meal tracking service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	template := cfg.Template
	if template.Len() == 0 {
		template = DefaultTemplate()
	}

	store := cfg.Store
	if store == nil {
		builtStore, err := NewDayStore(DayStoreConfig{Database: cfg.Database, Logger: logger, Clock: clock})
		if err != nil {
			return nil, newServiceError(opServiceNew, reasonMissingDatabase, err)
		}
		store = builtStore
	}

	return &Service{
		db:         cfg.Database,
		store:      store,
		template:   template,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		notifier:   cfg.Notifier,
		remote:     cfg.Remote,
	}, nil
}

// Template exposes the day template the service reconciles against.
func (s *Service) Template() Template {
	return s.template
}

// Today returns the reconciled view of the current day, running the rollover
// check before anything reads "today's" status.
func (s *Service) Today(ctx context.Context, userID UserID) (DayView, error) {
	record, found, err := s.loadToday(ctx, userID)
	if err != nil {
		return DayView{}, newServiceError(opToday, reasonReadFailed, err)
	}
	return mergeDay(s.template, record, found), nil
}

// Confirm marks a slot as completed and applies its calorie contribution.
// Confirming an already-completed slot is a no-op: the delta is applied only
// on the upcoming-to-completed transition, so repeats never double-count.
func (s *Service) Confirm(ctx context.Context, userID UserID, slotID SlotID) (DayView, error) {
	templateSlot, ok := s.template.Slot(slotID)
	if !ok {
		return DayView{}, newServiceError(opConfirm, reasonUnknownSlot, fmt.Errorf("%w: %d", ErrUnknownSlot, slotID.Int64()))
	}

	record, found, err := s.loadToday(ctx, userID)
	if err != nil {
		return DayView{}, newServiceError(opConfirm, reasonReadFailed, err)
	}

	state := record.stateFor(slotID)
	if state.Status == StatusCompleted {
		return mergeDay(s.template, record, true), nil
	}

	analysis := s.latestAnalysisForSlot(ctx, userID, slotID)
	amount, source := resolveConfirmCalories(templateSlot, analysis)

	state.Status = StatusCompleted
	state.AppliedCalories = amount
	if source == "analysis" {
		state.AnalysisID = analysis.ID
		if analysis.FoodName != "" {
			state.Foods = []string{analysis.FoodName}
		}
	}
	record.CaloriesTotal = applyCalorieDelta(record.CaloriesTotal, amount)

	s.persistDay(ctx, opConfirm, userID, record, found)
	s.publishChange(userID, record.DateKey, *state)
	return mergeDay(s.template, record, true), nil
}

// Undo reverts a completed slot to upcoming, subtracting exactly the amount
// recorded at confirm time. Undoing an upcoming slot is a no-op.
func (s *Service) Undo(ctx context.Context, userID UserID, slotID SlotID) (DayView, error) {
	if _, ok := s.template.Slot(slotID); !ok {
		return DayView{}, newServiceError(opUndo, reasonUnknownSlot, fmt.Errorf("%w: %d", ErrUnknownSlot, slotID.Int64()))
	}

	record, found, err := s.loadToday(ctx, userID)
	if err != nil {
		return DayView{}, newServiceError(opUndo, reasonReadFailed, err)
	}

	state := record.stateFor(slotID)
	if state.Status != StatusCompleted {
		return mergeDay(s.template, record, found), nil
	}

	// Reverse the recorded amount, not a recomputation; the linked analysis
	// may have changed since confirm.
	amount := state.AppliedCalories
	state.Status = StatusUpcoming
	state.AppliedCalories = 0
	state.AnalysisID = ""
	state.Foods = nil
	record.CaloriesTotal = applyCalorieDelta(record.CaloriesTotal, -amount)

	s.persistDay(ctx, opUndo, userID, record, found)
	s.publishChange(userID, record.DateKey, *state)
	return mergeDay(s.template, record, true), nil
}

// History returns archived day records, most recent first.
func (s *Service) History(ctx context.Context, userID UserID) ([]DayRecord, error) {
	records, err := s.store.ListHistory(ctx, userID)
	if err != nil {
		s.logError(opHistory, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opHistory, reasonQueryFailed, err)
	}
	return records, nil
}

func (s *Service) loadToday(ctx context.Context, userID UserID) (DayRecord, bool, error) {
	today := DateKeyFor(s.clock())
	s.rolloverCheck(ctx, userID, today)
	return s.store.Read(ctx, userID, today)
}

// persistDay writes the mutated record. Storage failures here are logged and
// swallowed: the caller proceeds with the in-memory state and the next signal
// re-reads whatever the store actually holds.
func (s *Service) persistDay(ctx context.Context, operation string, userID UserID, record DayRecord, existed bool) {
	if !existed {
		record.Revision = 0
	}
	if err := s.store.Write(ctx, userID, record); err != nil {
		s.logError(operation, reasonWriteFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDateKey, record.DateKey.String()))
	}
}

func (s *Service) publishChange(userID UserID, dateKey DateKey, state SlotState) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(notify.Change{
		UserID:     userID.String(),
		EventType:  notify.EventMealCompleted,
		DateKey:    dateKey.String(),
		SlotID:     state.SlotID,
		Status:     string(state.Status),
		Calories:   state.AppliedCalories,
		Foods:      state.Foods,
		AnalysisID: state.AnalysisID,
		Timestamp:  s.clock().UTC(),
	})
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("meals service error", attrs...)
}
