package meals

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordAnalysisStoresEstimateWithGeneratedID(t *testing.T) {
	env := newTestService(t, []string{"analysis-1"})
	userID := mustUserID(t, "user-1")

	record, duplicate, err := env.service.RecordAnalysis(context.Background(), userID, AnalysisInput{
		FoodName:   "Grilled salmon",
		Nutrition:  NutritionFacts{Calories: 380, Protein: 34, Fat: 18},
		Fiber:      2,
		Confidence: 0.85,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if duplicate {
		t.Fatalf("first submission must not report duplicate")
	}
	if record.ID != "analysis-1" {
		t.Fatalf("unexpected analysis id %q", record.ID)
	}
	if record.Nutrition.Calories != 380 || record.Confidence != 0.85 {
		t.Fatalf("stored record mismatch: %#v", record)
	}

	var count int64
	if err := env.db.Model(&AnalysisRow{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one stored row, got %d", count)
	}
}

func TestRecordAnalysisDeduplicatesIdenticalPayloads(t *testing.T) {
	env := newTestService(t, []string{"analysis-1", "analysis-2"})
	userID := mustUserID(t, "user-1")
	input := AnalysisInput{
		FoodName:   "Grilled salmon",
		Nutrition:  NutritionFacts{Calories: 380},
		Confidence: 0.85,
	}

	first, _, err := env.service.RecordAnalysis(context.Background(), userID, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, duplicate, err := env.service.RecordAnalysis(context.Background(), userID, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !duplicate {
		t.Fatalf("identical payload must be reported as duplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate must resolve to the stored record, got %q and %q", first.ID, second.ID)
	}

	var count int64
	if err := env.db.Model(&AnalysisRow{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("duplicate submission must not add rows, got %d", count)
	}
}

func TestRecordAnalysisAllowsSamePayloadForDifferentUsers(t *testing.T) {
	env := newTestService(t, []string{"analysis-1", "analysis-2"})
	input := AnalysisInput{FoodName: "Oatmeal", Nutrition: NutritionFacts{Calories: 220}}

	if _, duplicate, err := env.service.RecordAnalysis(context.Background(), mustUserID(t, "user-1"), input); err != nil || duplicate {
		t.Fatalf("unexpected first outcome: duplicate=%v err=%v", duplicate, err)
	}
	if _, duplicate, err := env.service.RecordAnalysis(context.Background(), mustUserID(t, "user-2"), input); err != nil || duplicate {
		t.Fatalf("dedupe must be scoped per user: duplicate=%v err=%v", duplicate, err)
	}
}

func TestRecordAnalysisRejectsEmptyFoodName(t *testing.T) {
	env := newTestService(t, []string{"analysis-1"})

	_, _, err := env.service.RecordAnalysis(context.Background(), mustUserID(t, "user-1"), AnalysisInput{})
	if !errors.Is(err, ErrInvalidAnalysis) {
		t.Fatalf("expected ErrInvalidAnalysis, got %v", err)
	}
}

type failingRemoteSink struct {
	calls int
}

func (s *failingRemoteSink) UpsertAnalysis(context.Context, string, AnalysisRecord) error {
	s.calls++
	return errors.New("upstream unavailable")
}

func TestRecordAnalysisKeepsLocalRecordWhenRemoteSyncFails(t *testing.T) {
	db := newTestDatabase(t)
	remote := &failingRemoteSink{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1770000000, 0).UTC() },
		IDProvider: &staticIDGenerator{ids: []string{"analysis-1"}},
		Remote:     remote,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	record, duplicate, err := service.RecordAnalysis(context.Background(), mustUserID(t, "user-1"), AnalysisInput{
		FoodName:  "Grilled salmon",
		Nutrition: NutritionFacts{Calories: 380},
	})
	if err != nil {
		t.Fatalf("remote failure must not fail the local write: %v", err)
	}
	if duplicate {
		t.Fatalf("unexpected duplicate flag")
	}
	if record.ID != "analysis-1" {
		t.Fatalf("local record must stand with its generated id, got %q", record.ID)
	}
	if remote.calls != 1 {
		t.Fatalf("remote sync must be attempted once, got %d attempts", remote.calls)
	}

	var stored AnalysisRow
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("local row must survive remote failure: %v", err)
	}
}

func TestListAnalysesReturnsNewestFirst(t *testing.T) {
	env := newTestService(t, []string{"analysis-1", "analysis-2", "analysis-3"})
	userID := mustUserID(t, "user-1")

	for _, name := range []string{"Breakfast bowl", "Lunch wrap", "Dinner plate"} {
		if _, _, err := env.service.RecordAnalysis(context.Background(), userID, AnalysisInput{
			FoodName:  name,
			Nutrition: NutritionFacts{Calories: 300},
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		env.clock.Advance(time.Minute)
	}

	records, err := env.service.ListAnalyses(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].FoodName != "Dinner plate" {
		t.Fatalf("expected newest first, got %q", records[0].FoodName)
	}
	if records[2].FoodName != "Breakfast bowl" {
		t.Fatalf("expected oldest last, got %q", records[2].FoodName)
	}
}

func TestLatestAnalysisForSlotPicksMostRecent(t *testing.T) {
	env := newTestService(t, []string{"analysis-1", "analysis-2"})
	userID := mustUserID(t, "user-1")
	slotID := mustSlotID(t, 2)
	linked := slotID

	if _, _, err := env.service.RecordAnalysis(context.Background(), userID, AnalysisInput{
		FoodName:  "First guess",
		Nutrition: NutritionFacts{Calories: 200},
		SlotID:    &linked,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.clock.Advance(time.Minute)
	if _, _, err := env.service.RecordAnalysis(context.Background(), userID, AnalysisInput{
		FoodName:  "Second guess",
		Nutrition: NutritionFacts{Calories: 260},
		SlotID:    &linked,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	latest := env.service.latestAnalysisForSlot(context.Background(), userID, slotID)
	if latest == nil {
		t.Fatalf("expected a linked analysis")
	}
	if latest.ID != "analysis-2" || latest.Nutrition.Calories != 260 {
		t.Fatalf("expected the most recent estimate, got %#v", latest)
	}
}
