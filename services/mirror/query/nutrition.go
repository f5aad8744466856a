// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"math"
	"strings"
)

// NutritionTotals holds summed nutrition values.
type NutritionTotals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

func (t *NutritionTotals) add(o NutritionTotals, factor float64) {
	t.Calories += o.Calories * factor
	t.Protein += o.Protein * factor
	t.Carbs += o.Carbs * factor
	t.Fat += o.Fat * factor
}

func (t NutritionTotals) scale(factor float64) NutritionTotals {
	return NutritionTotals{
		Calories: t.Calories * factor,
		Protein:  t.Protein * factor,
		Carbs:    t.Carbs * factor,
		Fat:      t.Fat * factor,
	}
}

// NutritionSummary is the roll-up attached to a recipe record.
type NutritionSummary struct {
	Aggregate  NutritionTotals `json:"aggregate"`
	PerServing NutritionTotals `json:"perServing"`
	Servings   float64         `json:"servings"`

	// UsableIngredients / TotalIngredients report coverage, since the
	// roll-up tolerates ingredients with missing nutrition data.
	UsableIngredients int `json:"usableIngredients"`
	TotalIngredients  int `json:"totalIngredients"`
}

// =============================================================================
// Unit Conversion
// =============================================================================

// Grams per mass unit and milliliters per volume unit.
var (
	massUnits = map[string]float64{
		"g": 1, "gram": 1, "grams": 1,
		"kg": 1000, "kilogram": 1000, "kilograms": 1000,
		"oz": 28.35, "ounce": 28.35, "ounces": 28.35,
		"lb": 453.59, "lbs": 453.59, "pound": 453.59, "pounds": 453.59,
	}
	volumeUnits = map[string]float64{
		"ml": 1, "milliliter": 1, "milliliters": 1,
		"l": 1000, "liter": 1000, "liters": 1000,
		"tsp": 4.93, "teaspoon": 4.93, "teaspoons": 4.93,
		"tbsp": 14.79, "tablespoon": 14.79, "tablespoons": 14.79,
		"cup": 236.59, "cups": 236.59,
		"floz": 29.57, "fl_oz": 29.57,
	}
	countUnits = map[string]bool{
		"": true, "piece": true, "pieces": true, "count": true,
		"whole": true, "unit": true, "units": true,
	}
)

// nutritionFactor converts an ingredient amount into the multiplier for
// its per-basis nutrition values. Mass amounts pair with a per-100g
// basis, volume with per-100ml, and counts with per-piece. A unit that
// cannot be reconciled with the ingredient's basis yields ok=false.
func nutritionFactor(amount float64, unit, basis string) (float64, bool) {
	unit = strings.ToLower(strings.TrimSpace(unit))
	basis = strings.ToLower(strings.TrimSpace(basis))

	if grams, ok := massUnits[unit]; ok {
		if basis == "" || basis == "per100g" {
			return amount * grams / 100, true
		}
		return 0, false
	}
	if ml, ok := volumeUnits[unit]; ok {
		if basis == "" || basis == "per100ml" {
			return amount * ml / 100, true
		}
		return 0, false
	}
	if countUnits[unit] {
		if basis == "" || basis == "perpiece" {
			return amount, true
		}
		return 0, false
	}
	return 0, false
}

// =============================================================================
// Roll-Up
// =============================================================================

// summarizeNutrition computes the roll-up for one recipe record's
// fields. It returns nil when fewer than 25% (minimum one) of the
// ingredients carried usable nutrition data.
//
// Each ingredient is expected as a resolved embedded object carrying
// "amount", "unit" and either a flat nutrition block (calories,
// protein, carbs, fat + "basis") or a nested "nutrition" object.
func summarizeNutrition(fields map[string]any) *NutritionSummary {
	ingredients := ingredientList(fields)
	if len(ingredients) == 0 {
		return nil
	}

	var total NutritionTotals
	usable := 0
	for _, ing := range ingredients {
		per, basis, ok := ingredientNutrition(ing)
		if !ok {
			continue
		}
		amount, aok := numberField(ing, "amount")
		if !aok {
			continue
		}
		unit, _ := ing["unit"].(string)
		factor, fok := nutritionFactor(amount, unit, basis)
		if !fok {
			continue
		}
		total.add(per, factor)
		usable++
	}

	required := int(math.Max(1, math.Ceil(0.25*float64(len(ingredients)))))
	if usable < required {
		return nil
	}

	servings, ok := numberField(fields, "servings")
	if !ok || servings <= 0 {
		servings = 1
	}

	return &NutritionSummary{
		Aggregate:         total,
		PerServing:        total.scale(1 / servings),
		Servings:          servings,
		UsableIngredients: usable,
		TotalIngredients:  len(ingredients),
	}
}

// enrichNutrition attaches roll-ups to every recipe record on the page.
func enrichNutrition(matches []Match) {
	for i := range matches {
		m := &matches[i]
		if m.Record.RecordType != RecordTypeRecipe {
			continue
		}
		for _, fields := range m.Record.Data {
			if summary := summarizeNutrition(fields); summary != nil {
				m.Nutrition = summary
				break
			}
		}
	}
}

func ingredientList(fields map[string]any) []map[string]any {
	raw, ok := fields["ingredients"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// ingredientNutrition extracts per-basis nutrition values either from a
// nested "nutrition" object or from flat fields on the ingredient.
func ingredientNutrition(ing map[string]any) (NutritionTotals, string, bool) {
	src := ing
	if nested, ok := ing["nutrition"].(map[string]any); ok {
		src = nested
	}
	cal, ok := numberField(src, "calories")
	if !ok {
		return NutritionTotals{}, "", false
	}
	protein, _ := numberField(src, "protein")
	carbs, _ := numberField(src, "carbs")
	fat, _ := numberField(src, "fat")
	basis, _ := src["basis"].(string)
	return NutritionTotals{Calories: cal, Protein: protein, Carbs: carbs, Fat: fat}, basis, true
}

func numberField(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
