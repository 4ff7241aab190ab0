package meals

import "time"

// mergeDay produces the authoritative slot list for a day by overlaying the
// stored record onto the template. The template defines identity and ordering;
// the stored record only refines status and the fields recorded at confirm
// time. Stored identifiers absent from the template are ignored.
func mergeDay(template Template, record DayRecord, found bool) DayView {
	view := DayView{DateKey: record.DateKey}

	states := make(map[int64]SlotState)
	if found {
		for _, state := range record.Slots {
			states[state.SlotID] = state
		}
		view.CaloriesTotal = record.CaloriesTotal
	}

	for _, templateSlot := range template.Slots() {
		slot := MealSlot{
			ID:          templateSlot.ID,
			Name:        templateSlot.Name,
			ScheduledAt: templateSlot.ScheduledAt,
			Status:      StatusUpcoming,
			Nutrition:   templateSlot.Nutrition,
		}
		if state, ok := states[templateSlot.ID.Int64()]; ok {
			if state.Status == StatusCompleted {
				slot.Status = StatusCompleted
			}
			slot.AppliedCalories = state.AppliedCalories
			slot.AnalysisID = state.AnalysisID
			slot.Foods = state.Foods
		}
		view.Slots = append(view.Slots, slot)
	}

	return view
}

// dayWriteOutcome captures the decision from resolveDayWrite.
type dayWriteOutcome struct {
	Accepted bool
	Row      DayRow
}

// resolveDayWrite decides whether an incoming day record supersedes the stored
// row. Revisions resolve races between concurrent writers: a higher revision
// always wins, a lower one is discarded, and a tie goes to the incoming write
// (last write wins, matching the store-is-source-of-truth contract).
func resolveDayWrite(existing *DayRow, userID UserID, incoming DayRecord, slotsJSON string, appliedAt time.Time) dayWriteOutcome {
	row := DayRow{
		UserID:           userID.String(),
		DateKey:          incoming.DateKey.String(),
		SlotsJSON:        slotsJSON,
		CaloriesTotal:    incoming.CaloriesTotal,
		UpdatedAtSeconds: appliedAt.Unix(),
	}

	if existing == nil {
		row.Revision = incoming.Revision
		if row.Revision < 1 {
			row.Revision = 1
		}
		return dayWriteOutcome{Accepted: true, Row: row}
	}

	if incoming.Revision < existing.Revision {
		return dayWriteOutcome{Accepted: false, Row: *existing}
	}

	row.Revision = existing.Revision + 1
	if incoming.Revision > row.Revision {
		row.Revision = incoming.Revision
	}
	if row.CaloriesTotal < 0 {
		row.CaloriesTotal = 0
	}
	return dayWriteOutcome{Accepted: true, Row: row}
}
