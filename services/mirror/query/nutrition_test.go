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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

func ingredient(amount float64, unit string, nutrition map[string]any) map[string]any {
	ing := map[string]any{"amount": amount, "unit": unit}
	if nutrition != nil {
		ing["nutrition"] = nutrition
	}
	return ing
}

func bareIngredient() map[string]any {
	return map[string]any{"name": "mystery"}
}

// TestNutritionFactor converts every unit family onto its basis.
func TestNutritionFactor(t *testing.T) {
	cases := []struct {
		name   string
		amount float64
		unit   string
		basis  string
		want   float64
	}{
		{"grams per100g", 250, "g", "per100g", 2.5},
		{"kilograms per100g", 1, "kg", "per100g", 10},
		{"ounces per100g", 100, "oz", "per100g", 28.35},
		{"pounds per100g", 1, "lb", "per100g", 4.5359},
		{"milliliters per100ml", 250, "ml", "per100ml", 2.5},
		{"liters per100ml", 1, "l", "per100ml", 10},
		{"teaspoons per100ml", 100, "tsp", "per100ml", 4.93},
		{"tablespoons per100ml", 100, "tbsp", "per100ml", 14.79},
		{"cups per100ml", 1, "cup", "per100ml", 2.3659},
		{"fluid ounces per100ml", 100, "floz", "per100ml", 29.57},
		{"pieces perPiece", 3, "piece", "perPiece", 3},
		{"empty unit counts as piece", 2, "", "perPiece", 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := nutritionFactor(tc.amount, tc.unit, tc.basis)
			require.True(t, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

// TestNutritionFactor_Mismatch refuses a unit the basis cannot absorb.
func TestNutritionFactor_Mismatch(t *testing.T) {
	_, ok := nutritionFactor(100, "g", "per100ml")
	assert.False(t, ok, "mass amount against volume basis")
	_, ok = nutritionFactor(1, "cup", "per100g")
	assert.False(t, ok)
	_, ok = nutritionFactor(1, "fathom", "per100g")
	assert.False(t, ok, "unknown unit")
}

// TestSummarize_BelowThreshold yields no summary at 1 of 5 usable (20%).
func TestSummarize_BelowThreshold(t *testing.T) {
	fields := map[string]any{
		"servings": float64(2),
		"ingredients": []any{
			ingredient(100, "g", map[string]any{"calories": float64(100), "basis": "per100g"}),
			bareIngredient(),
			bareIngredient(),
			bareIngredient(),
			bareIngredient(),
		},
	}

	assert.Nil(t, summarizeNutrition(fields))
}

// TestSummarize_AboveThreshold sums 2 of 5 usable (40%) with unit
// conversion and per-serving scaling.
func TestSummarize_AboveThreshold(t *testing.T) {
	fields := map[string]any{
		"servings": float64(2),
		"ingredients": []any{
			// 200g at 100 kcal / 10g protein per 100g.
			ingredient(200, "g", map[string]any{
				"calories": float64(100), "protein": float64(10), "basis": "per100g",
			}),
			// 1kg at 50 kcal per 100g.
			ingredient(1, "kg", map[string]any{
				"calories": float64(50), "basis": "per100g",
			}),
			bareIngredient(),
			bareIngredient(),
			bareIngredient(),
		},
	}

	summary := summarizeNutrition(fields)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.UsableIngredients)
	assert.Equal(t, 5, summary.TotalIngredients)
	assert.InDelta(t, 700, summary.Aggregate.Calories, 1e-9, "200+500")
	assert.InDelta(t, 20, summary.Aggregate.Protein, 1e-9)
	assert.InDelta(t, 350, summary.PerServing.Calories, 1e-9)
	assert.Equal(t, 2.0, summary.Servings)
}

// TestSummarize_DefaultServings falls back to one serving.
func TestSummarize_DefaultServings(t *testing.T) {
	fields := map[string]any{
		"ingredients": []any{
			ingredient(100, "g", map[string]any{"calories": float64(80), "basis": "per100g"}),
		},
	}

	summary := summarizeNutrition(fields)
	require.NotNil(t, summary)
	assert.InDelta(t, 80, summary.PerServing.Calories, 1e-9)
	assert.Equal(t, 1.0, summary.Servings)
}

// TestSummarize_FlatNutritionFields reads ingredients without a nested
// nutrition object.
func TestSummarize_FlatNutritionFields(t *testing.T) {
	fields := map[string]any{
		"ingredients": []any{
			map[string]any{
				"amount": float64(2), "unit": "piece",
				"calories": float64(70), "protein": float64(6), "basis": "perPiece",
			},
		},
	}

	summary := summarizeNutrition(fields)
	require.NotNil(t, summary)
	assert.InDelta(t, 140, summary.Aggregate.Calories, 1e-9)
	assert.InDelta(t, 12, summary.Aggregate.Protein, 1e-9)
}

// TestQuery_NutritionEnrichment attaches summaries to recipe records on
// the returned page only.
func TestQuery_NutritionEnrichment(t *testing.T) {
	records := []datatypes.Record{
		rec("tx1", "recipe", nil, map[string]map[string]any{
			"recipe": {
				"servings": float64(4),
				"ingredients": []any{
					ingredient(400, "g", map[string]any{"calories": float64(100), "basis": "per100g"}),
				},
			},
		}),
		rec("tx2", "workout", nil, nil),
	}

	opts := NewOptions()
	opts.NutritionSummary = true
	e := New(&fakeSource{records: records}, nil, nil)
	result, err := e.Query(context.Background(), opts)
	require.NoError(t, err)

	var recipe, workout *Match
	for i := range result.Records {
		switch result.Records[i].Record.TxID {
		case "tx1":
			recipe = &result.Records[i]
		case "tx2":
			workout = &result.Records[i]
		}
	}
	require.NotNil(t, recipe)
	require.NotNil(t, recipe.Nutrition)
	assert.InDelta(t, 400, recipe.Nutrition.Aggregate.Calories, 1e-9)
	assert.InDelta(t, 100, recipe.Nutrition.PerServing.Calories, 1e-9)
	require.NotNil(t, workout)
	assert.Nil(t, workout.Nutrition)
}
