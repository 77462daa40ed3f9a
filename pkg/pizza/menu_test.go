package pizza

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMenuIsDefensiveCopy(t *testing.T) {
	items := Menu()
	require.NotEmpty(t, items)

	items[0].Name = "Tampered"
	assert.NotEqual(t, "Tampered", Menu()[0].Name)
}

func TestFindItem(t *testing.T) {
	byID, ok := FindItem("margherita")
	require.True(t, ok)
	assert.Equal(t, "Margherita", byID.Name)

	byName, ok := FindItem("Pepperoni Classic")
	require.True(t, ok)
	assert.Equal(t, "pepperoni", byName.ID)

	caseInsensitive, ok := FindItem("  HAWAIIAN ")
	require.True(t, ok)
	assert.Equal(t, "hawaiian", caseInsensitive.ID)

	_, ok = FindItem("calzone")
	assert.False(t, ok)
}

func TestSearchMenu(t *testing.T) {
	t.Run("should match by name", func(t *testing.T) {
		matches := SearchMenu("diavola")
		require.Len(t, matches, 1)
		assert.Equal(t, "diavola", matches[0].ID)
	})

	t.Run("should match by topping", func(t *testing.T) {
		matches := SearchMenu("pineapple")
		require.Len(t, matches, 1)
		assert.Equal(t, "hawaiian", matches[0].ID)
	})

	t.Run("should match vegetarian flag", func(t *testing.T) {
		matches := SearchMenu("vegetarian")
		require.NotEmpty(t, matches)
		for _, item := range matches {
			assert.True(t, item.Vegetarian, item.ID)
		}
	})

	t.Run("should return full menu for empty query", func(t *testing.T) {
		assert.Len(t, SearchMenu(""), len(Menu()))
	})

	t.Run("should return nothing for no match", func(t *testing.T) {
		assert.Empty(t, SearchMenu("sushi"))
	})
}

func TestPriceFor(t *testing.T) {
	item, ok := FindItem("margherita")
	require.True(t, ok)

	medium, ok := PriceFor(item, "")
	require.True(t, ok)
	assert.InDelta(t, 9.50, medium, 0.001)

	small, ok := PriceFor(item, "small")
	require.True(t, ok)
	assert.InDelta(t, 7.60, small, 0.001)

	large, ok := PriceFor(item, "LARGE")
	require.True(t, ok)
	assert.InDelta(t, 12.35, large, 0.001)

	_, ok = PriceFor(item, "family")
	assert.False(t, ok)
}
