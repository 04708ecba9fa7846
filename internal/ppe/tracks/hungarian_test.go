package tracks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHungarianAssign(t *testing.T) {
	t.Parallel()

	t.Run("empty matrix", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, hungarianAssign(nil))
	})

	t.Run("single cell", func(t *testing.T) {
		t.Parallel()
		assign := hungarianAssign([][]float64{{0.2}})
		assert.Equal(t, []int{0}, assign)
	})

	t.Run("picks the minimum-cost assignment", func(t *testing.T) {
		t.Parallel()
		// Greedy row order would give row 0 its cheapest column 0 and force
		// row 1 into the 0.9 cell; the global optimum crosses them over.
		cost := [][]float64{
			{0.2, 0.3},
			{0.25, 0.9},
		}
		assign := hungarianAssign(cost)
		assert.Equal(t, []int{1, 0}, assign)
	})

	t.Run("more rows than columns leaves rows unassigned", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{0.1},
			{0.9},
		}
		assign := hungarianAssign(cost)
		assert.Equal(t, []int{0, -1}, assign)
	})

	t.Run("more columns than rows leaves columns unassigned", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{0.9, 0.1, 0.5},
		}
		assign := hungarianAssign(cost)
		assert.Equal(t, []int{1}, assign)
	})

	t.Run("forbidden pairings are never assigned", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{forbiddenCost, 0.3},
			{forbiddenCost, forbiddenCost},
		}
		assign := hungarianAssign(cost)
		assert.Equal(t, []int{1, -1}, assign)
	})

	t.Run("fully forbidden matrix assigns nothing", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{forbiddenCost, forbiddenCost},
			{forbiddenCost, forbiddenCost},
		}
		assign := hungarianAssign(cost)
		assert.Equal(t, []int{-1, -1}, assign)
	})

	t.Run("three by three optimum", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{0.9, 0.1, 0.8},
			{0.2, 0.9, 0.7},
			{0.8, 0.7, 0.1},
		}
		assign := hungarianAssign(cost)
		assert.Equal(t, []int{1, 0, 2}, assign)
	})
}
