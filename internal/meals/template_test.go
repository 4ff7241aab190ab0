package meals

import "testing"

func TestNewTemplateDropsDuplicatesAndInvalidIDs(t *testing.T) {
	template := NewTemplate([]TemplateSlot{
		{ID: 1, Name: "Breakfast"},
		{ID: 0, Name: "Invalid"},
		{ID: 2, Name: "Lunch"},
		{ID: 1, Name: "Duplicate breakfast"},
	})

	if template.Len() != 2 {
		t.Fatalf("expected 2 slots, got %d", template.Len())
	}
	slot, ok := template.Slot(mustSlotID(t, 1))
	if !ok || slot.Name != "Breakfast" {
		t.Fatalf("expected first occurrence to win, got %#v", slot)
	}
	if _, ok := template.Slot(mustSlotID(t, 3)); ok {
		t.Fatalf("did not expect slot 3 to resolve")
	}
}

func TestTemplatePreservesDeclaredOrder(t *testing.T) {
	template := NewTemplate([]TemplateSlot{
		{ID: 9, Name: "Dinner"},
		{ID: 4, Name: "Lunch"},
		{ID: 7, Name: "Breakfast"},
	})

	slots := template.Slots()
	wantOrder := []int64{9, 4, 7}
	for index, want := range wantOrder {
		if slots[index].ID.Int64() != want {
			t.Fatalf("unexpected order at %d: got %d, want %d", index, slots[index].ID.Int64(), want)
		}
	}
}

func TestDefaultTemplateCoversAFullDay(t *testing.T) {
	template := DefaultTemplate()
	if template.Len() != 5 {
		t.Fatalf("expected 5 default slots, got %d", template.Len())
	}
	for _, slot := range template.Slots() {
		if slot.Nutrition.Calories <= 0 {
			t.Fatalf("default slot %q has no calorie snapshot", slot.Name)
		}
		if slot.ScheduledAt == "" {
			t.Fatalf("default slot %q has no schedule", slot.Name)
		}
	}
}
