package meals

// calorieSource is one resolver in the ordered chain deciding which calorie
// number a confirm applies. The first source returning true wins.
type calorieSource struct {
	name    string
	resolve func(slot TemplateSlot, analysis *AnalysisRecord) (float64, bool)
}

// calorieSources is the precedence rule as data: a linked analysis beats the
// slot's own nutrition snapshot, and a slot with neither contributes nothing.
var calorieSources = []calorieSource{
	{
		name: "analysis",
		resolve: func(_ TemplateSlot, analysis *AnalysisRecord) (float64, bool) {
			if analysis == nil || analysis.Nutrition.Calories <= 0 {
				return 0, false
			}
			return analysis.Nutrition.Calories, true
		},
	},
	{
		name: "template",
		resolve: func(slot TemplateSlot, _ *AnalysisRecord) (float64, bool) {
			if slot.Nutrition.Calories <= 0 {
				return 0, false
			}
			return slot.Nutrition.Calories, true
		},
	},
}

// resolveConfirmCalories walks the source chain for a slot being confirmed and
// returns the winning amount with the name of the source that supplied it.
func resolveConfirmCalories(slot TemplateSlot, analysis *AnalysisRecord) (float64, string) {
	for _, source := range calorieSources {
		if amount, ok := source.resolve(slot, analysis); ok {
			return amount, source.name
		}
	}
	return 0, "none"
}

// applyCalorieDelta adjusts a running total, clamping at zero so an undo can
// never drive the displayed total negative.
func applyCalorieDelta(total, delta float64) float64 {
	next := total + delta
	if next < 0 {
		return 0
	}
	return next
}
