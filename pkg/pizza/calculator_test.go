package pizza

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name         string
		people       int
		appetite     string
		wantSlices   int
		wantPizzas   int
	}{
		{"one light eater", 1, "light", 2, 1},
		{"one normal eater", 1, "normal", 3, 1},
		{"one hungry eater", 1, "hungry", 4, 1},
		{"empty appetite defaults to normal", 4, "", 12, 2},
		{"exact pizza boundary", 8, "light", 16, 2},
		{"rounds up past boundary", 3, "normal", 9, 2},
		{"large hungry group", 10, "hungry", 40, 5},
		{"office party", 25, "normal", 75, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := Calculate(tt.people, tt.appetite)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSlices, calc.SlicesNeeded)
			assert.Equal(t, tt.wantPizzas, calc.Pizzas)
			assert.NotEmpty(t, calc.Recommendation)
		})
	}
}

func TestCalculateInvalidPeopleCount(t *testing.T) {
	for _, people := range []int{0, -1, -100} {
		_, err := Calculate(people, "normal")
		assert.True(t, errors.Is(err, ErrInvalidPeopleCount), "people=%d", people)
	}
}

func TestCalculateInvalidAppetite(t *testing.T) {
	_, err := Calculate(4, "ravenous")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAppetite))
	assert.Contains(t, err.Error(), "ravenous")
}

func TestCalculateRecommendationWording(t *testing.T) {
	calc, err := Calculate(7, "normal")
	require.NoError(t, err)

	// 7 people * 3 slices = 21 slices -> 3 pizzas
	assert.Equal(t, 3, calc.Pizzas)
	assert.Contains(t, calc.Recommendation, "7 people")
	assert.Contains(t, calc.Recommendation, "21 slices")
	assert.Contains(t, calc.Recommendation, "3 pizzas")
}

func TestCalculateSingularPizza(t *testing.T) {
	calc, err := Calculate(2, "light")
	require.NoError(t, err)

	assert.Equal(t, 1, calc.Pizzas)
	assert.Contains(t, calc.Recommendation, "1 pizza (")
}

func TestCalculatePizzasString(t *testing.T) {
	recommendation, err := CalculatePizzas(4, "hungry")
	require.NoError(t, err)
	assert.Contains(t, recommendation, "2 pizzas")

	_, err = CalculatePizzas(0, "normal")
	assert.Error(t, err)
}
