package meals

import (
	"context"

	"go.uber.org/zap"
)

// RolloverDecision is the explicit outcome of comparing the stored latest day
// against the calendar: either the working day is current, or the stored day
// must be archived before today's state is touched.
type RolloverDecision struct {
	NeedsRollover bool
	FromKey       DateKey
	ToKey         DateKey
}

// DecideRollover computes the rollover state once per access. The stored key
// is stale only when it precedes today; a stored key from the future (clock
// moved backwards) is left alone rather than archived early.
func DecideRollover(latestKey DateKey, hasLatest bool, today DateKey) RolloverDecision {
	if !hasLatest || latestKey == today || today.Before(latestKey) {
		return RolloverDecision{ToKey: today}
	}
	return RolloverDecision{
		NeedsRollover: true,
		FromKey:       latestKey,
		ToKey:         today,
	}
}

// performRollover archives the previous day's record and clears the working
// state. Archival is best effort: a failed backup is logged and today's view
// still renders.
func (s *Service) performRollover(ctx context.Context, userID UserID, decision RolloverDecision) {
	if !decision.NeedsRollover {
		return
	}

	record, found, err := s.store.Read(ctx, userID, decision.FromKey)
	if err != nil {
		s.logError(opRollover, reasonStaleDayReadFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDateKey, decision.FromKey.String()))
		return
	}
	if !found {
		return
	}

	if archiveErr := s.store.Archive(ctx, userID, record); archiveErr != nil {
		s.logError(opRollover, reasonArchiveFailed, archiveErr,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDateKey, decision.FromKey.String()))
	}
}

// rolloverCheck runs before any read of "today" so yesterday's completed flags
// are never presented as if they applied to the current date.
func (s *Service) rolloverCheck(ctx context.Context, userID UserID, today DateKey) {
	latestKey, hasLatest, err := s.store.LatestDateKey(ctx, userID)
	if err != nil {
		s.logError(opRollover, reasonLatestKeyFailed, err, zap.String(fieldUserID, userID.String()))
		return
	}
	s.performRollover(ctx, userID, DecideRollover(latestKey, hasLatest, today))
}
