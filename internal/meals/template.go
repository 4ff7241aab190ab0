package meals

// TemplateSlot defines one scheduled meal occurrence. Identity and ordering
// belong to the template; storage only ever refines status.
type TemplateSlot struct {
	ID          SlotID
	Name        string
	ScheduledAt string
	Nutrition   NutritionFacts
}

// Template is the fixed ordered set of meal slots that make up a day.
// The slot count is data, not a design constant.
type Template struct {
	slots []TemplateSlot
	byID  map[SlotID]int
}

// NewTemplate builds a Template from the provided slots, preserving order.
func NewTemplate(slots []TemplateSlot) Template {
	byID := make(map[SlotID]int, len(slots))
	ordered := make([]TemplateSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.ID <= 0 {
			continue
		}
		if _, seen := byID[slot.ID]; seen {
			continue
		}
		byID[slot.ID] = len(ordered)
		ordered = append(ordered, slot)
	}
	return Template{slots: ordered, byID: byID}
}

// Slots returns the template slots in display order.
func (t Template) Slots() []TemplateSlot {
	out := make([]TemplateSlot, len(t.slots))
	copy(out, t.slots)
	return out
}

// Slot returns the template entry for the provided identifier.
func (t Template) Slot(id SlotID) (TemplateSlot, bool) {
	index, ok := t.byID[id]
	if !ok {
		return TemplateSlot{}, false
	}
	return t.slots[index], true
}

// Len returns the number of slots in the template.
func (t Template) Len() int {
	return len(t.slots)
}

// DefaultTemplate returns the stock five-slot meal plan used when no
// per-user plan is configured.
func DefaultTemplate() Template {
	return NewTemplate([]TemplateSlot{
		{ID: 1, Name: "Breakfast", ScheduledAt: "07:30", Nutrition: NutritionFacts{Calories: 320, Protein: 18, Carbs: 42, Fat: 9}},
		{ID: 2, Name: "Morning snack", ScheduledAt: "10:00", Nutrition: NutritionFacts{Calories: 150, Protein: 6, Carbs: 20, Fat: 5}},
		{ID: 3, Name: "Lunch", ScheduledAt: "12:30", Nutrition: NutritionFacts{Calories: 450, Protein: 32, Carbs: 48, Fat: 14}},
		{ID: 4, Name: "Afternoon snack", ScheduledAt: "16:00", Nutrition: NutritionFacts{Calories: 180, Protein: 8, Carbs: 22, Fat: 7}},
		{ID: 5, Name: "Dinner", ScheduledAt: "19:30", Nutrition: NutritionFacts{Calories: 400, Protein: 28, Carbs: 38, Fat: 13}},
	})
}
