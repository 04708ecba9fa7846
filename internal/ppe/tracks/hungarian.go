package tracks

import "math"

// hungarian solves detection-to-track assignment with the Kuhn–Munkres
// algorithm (Jonker–Volgenant potentials variant, O(n³)). Global optimal
// assignment avoids the identity swaps a greedy nearest-box matcher produces
// when two detections compete for the same track.
//
// The cost matrix entry C[i][j] is 1 − IoU between detection i and track j's
// predicted box. Entries whose overlap falls below the gating threshold are
// set to forbiddenCost so the solver never selects them.

// forbiddenCost stands in for infinity in the cost matrix. Any assignment
// carrying this cost is rejected after solving.
const forbiddenCost = 1e18

// hungarianAssign solves the rectangular assignment problem for an n×m cost
// matrix. It returns assign[i] = column assigned to row i, or -1 when row i
// is unassigned. Costs ≥ forbiddenCost are treated as disallowed pairings.
//
// When equal-cost solutions exist the solver's fixed row/column scan order
// makes the result deterministic: lower column indices win ties, which maps
// to the lower existing track id because callers list tracks in id order.
func hungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		assign := make([]int, n)
		for i := range assign {
			assign[i] = -1
		}
		return assign
	}

	// Square the matrix by padding with forbidden entries; padded rows and
	// columns absorb the surplus so real rows stay unassigned rather than
	// forced into bad pairings.
	dim := n
	if m > dim {
		dim = m
	}
	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = forbiddenCost
			}
		}
	}

	const inf = math.MaxFloat64 / 2

	// 1-indexed internally; index 0 is the virtual column for augmentation.
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row assigned to column j
	way := make([]int, dim+1) // way[j] = previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 && p[j] <= dim {
			rowAssign[p[j]-1] = j - 1
		}
	}

	// Trim padding and strip forbidden pairings.
	assign := make([]int, n)
	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || cost[i][col] >= forbiddenCost {
			assign[i] = -1
		} else {
			assign[i] = col
		}
	}
	return assign
}
