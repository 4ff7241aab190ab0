package meals

import (
	"testing"
	"time"
)

func testTemplate(t *testing.T) Template {
	t.Helper()
	return NewTemplate([]TemplateSlot{
		{ID: 1, Name: "Breakfast", ScheduledAt: "07:30", Nutrition: NutritionFacts{Calories: 300}},
		{ID: 2, Name: "Lunch", ScheduledAt: "12:30", Nutrition: NutritionFacts{Calories: 450}},
		{ID: 3, Name: "Dinner", ScheduledAt: "19:30", Nutrition: NutritionFacts{Calories: 400}},
	})
}

func TestMergeDayWithoutStoredRecordYieldsAllUpcoming(t *testing.T) {
	template := testTemplate(t)
	record := DayRecord{DateKey: mustDateKey(t, "2026-03-09")}

	view := mergeDay(template, record, false)

	if len(view.Slots) != template.Len() {
		t.Fatalf("expected %d slots, got %d", template.Len(), len(view.Slots))
	}
	for _, slot := range view.Slots {
		if slot.Status != StatusUpcoming {
			t.Fatalf("slot %d should be upcoming, got %s", slot.ID.Int64(), slot.Status)
		}
	}
	if view.CaloriesTotal != 0 {
		t.Fatalf("expected zero total for empty day, got %f", view.CaloriesTotal)
	}
}

func TestMergeDayOverlaysStoredStatusOntoTemplate(t *testing.T) {
	template := testTemplate(t)
	record := DayRecord{
		DateKey: mustDateKey(t, "2026-03-09"),
		Slots: []SlotState{
			{SlotID: 2, Status: StatusCompleted, AppliedCalories: 450, AnalysisID: "analysis-7", Foods: []string{"salad"}},
		},
		CaloriesTotal: 450,
	}

	view := mergeDay(template, record, true)

	if view.Slots[0].Status != StatusUpcoming {
		t.Fatalf("slot 1 should stay upcoming")
	}
	lunch := view.Slots[1]
	if lunch.Status != StatusCompleted {
		t.Fatalf("slot 2 should be completed, got %s", lunch.Status)
	}
	if lunch.AppliedCalories != 450 || lunch.AnalysisID != "analysis-7" {
		t.Fatalf("stored refinements lost: %#v", lunch)
	}
	if lunch.Name != "Lunch" || lunch.ScheduledAt != "12:30" {
		t.Fatalf("template identity must win: %#v", lunch)
	}
	if view.CaloriesTotal != 450 {
		t.Fatalf("expected total 450, got %f", view.CaloriesTotal)
	}
}

func TestMergeDayIgnoresStoredSlotsAbsentFromTemplate(t *testing.T) {
	template := testTemplate(t)
	record := DayRecord{
		DateKey: mustDateKey(t, "2026-03-09"),
		Slots: []SlotState{
			{SlotID: 99, Status: StatusCompleted, AppliedCalories: 900},
			{SlotID: 1, Status: StatusCompleted, AppliedCalories: 300},
		},
		CaloriesTotal: 1200,
	}

	view := mergeDay(template, record, true)

	if len(view.Slots) != template.Len() {
		t.Fatalf("stale identifiers must not add slots: got %d", len(view.Slots))
	}
	if view.Slots[0].Status != StatusCompleted {
		t.Fatalf("slot 1 should reflect storage")
	}
}

func TestMergeDayUnknownStatusRendersAsUpcoming(t *testing.T) {
	template := testTemplate(t)
	record := DayRecord{
		DateKey: mustDateKey(t, "2026-03-09"),
		Slots: []SlotState{
			{SlotID: 1, Status: SlotStatus("corrupted")},
		},
	}

	view := mergeDay(template, record, true)

	if view.Slots[0].Status != StatusUpcoming {
		t.Fatalf("unrecognized stored status should render as upcoming, got %s", view.Slots[0].Status)
	}
}

func TestResolveDayWriteCreatesRowWhenAbsent(t *testing.T) {
	incoming := DayRecord{
		DateKey:       mustDateKey(t, "2026-03-09"),
		CaloriesTotal: 450,
	}

	outcome := resolveDayWrite(nil, mustUserID(t, "user-1"), incoming, `[]`, time.Unix(1770000000, 0).UTC())

	if !outcome.Accepted {
		t.Fatalf("expected write to be accepted")
	}
	if outcome.Row.Revision != 1 {
		t.Fatalf("expected first revision to be 1, got %d", outcome.Row.Revision)
	}
	if outcome.Row.UpdatedAtSeconds != 1770000000 {
		t.Fatalf("unexpected updated timestamp %d", outcome.Row.UpdatedAtSeconds)
	}
}

func TestResolveDayWriteRejectsStaleRevision(t *testing.T) {
	existing := &DayRow{
		UserID:        "user-1",
		DateKey:       "2026-03-09",
		SlotsJSON:     `[]`,
		CaloriesTotal: 900,
		Revision:      5,
	}
	incoming := DayRecord{
		DateKey:       mustDateKey(t, "2026-03-09"),
		CaloriesTotal: 450,
		Revision:      3,
	}

	outcome := resolveDayWrite(existing, mustUserID(t, "user-1"), incoming, `[]`, time.Unix(1770000000, 0).UTC())

	if outcome.Accepted {
		t.Fatalf("expected stale write to be rejected")
	}
	if outcome.Row.CaloriesTotal != 900 || outcome.Row.Revision != 5 {
		t.Fatalf("rejection must leave the stored row untouched: %#v", outcome.Row)
	}
}

func TestResolveDayWriteTieGoesToIncomingWrite(t *testing.T) {
	existing := &DayRow{
		UserID:        "user-1",
		DateKey:       "2026-03-09",
		SlotsJSON:     `[{"slotId":1,"status":"completed"}]`,
		CaloriesTotal: 300,
		Revision:      4,
	}
	incoming := DayRecord{
		DateKey:       mustDateKey(t, "2026-03-09"),
		CaloriesTotal: 750,
		Revision:      4,
	}

	outcome := resolveDayWrite(existing, mustUserID(t, "user-1"), incoming, `[]`, time.Unix(1770000000, 0).UTC())

	if !outcome.Accepted {
		t.Fatalf("expected tie to favor the incoming write")
	}
	if outcome.Row.Revision != 5 {
		t.Fatalf("accepted write must advance the revision, got %d", outcome.Row.Revision)
	}
	if outcome.Row.CaloriesTotal != 750 {
		t.Fatalf("incoming totals should replace the stored value, got %f", outcome.Row.CaloriesTotal)
	}
}

func TestResolveDayWriteClampsNegativeTotals(t *testing.T) {
	existing := &DayRow{UserID: "user-1", DateKey: "2026-03-09", Revision: 1}
	incoming := DayRecord{
		DateKey:       mustDateKey(t, "2026-03-09"),
		CaloriesTotal: -120,
		Revision:      2,
	}

	outcome := resolveDayWrite(existing, mustUserID(t, "user-1"), incoming, `[]`, time.Unix(1770000000, 0).UTC())

	if !outcome.Accepted {
		t.Fatalf("expected write to be accepted")
	}
	if outcome.Row.CaloriesTotal != 0 {
		t.Fatalf("negative totals must clamp to zero, got %f", outcome.Row.CaloriesTotal)
	}
}
