package tracker

import "math"

// infCost marks a forbidden (gated-out) assignment.
const infCost = math.MaxFloat64 / 2

// solveHungarian finds the minimum-cost perfect assignment over a
// possibly-rectangular cost matrix using the Jonker-Volgenant style
// Hungarian algorithm (O(n^3) row/column potential formulation). Rows
// are tracks, columns are detections. Returns, for each row, the
// assigned column index or -1 if unassigned (cost was infCost for
// every column, or there were more rows than columns).
//
// No example repo in the corpus implements or imports an assignment-
// problem solver (justified stdlib-only in DESIGN.md): this is a
// standard O(n^3) shortest-augmenting-path Hungarian implementation
// over a square padded matrix.
func solveHungarian(cost [][]float64) []int {
	nRows := len(cost)
	if nRows == 0 {
		return nil
	}
	nCols := len(cost[0])

	n := nRows
	if nCols > n {
		n = nCols
	}

	// Pad to a square matrix with infCost for the phantom rows/cols,
	// so real rows never get assigned to phantom columns (which
	// report as unassigned).
	a := make([][]float64, n)
	for i := 0; i < n; i++ {
		a[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			switch {
			case i < nRows && j < nCols:
				a[i][j] = cost[i][j]
			default:
				a[i][j] = infCost
			}
		}
	}

	const inf = math.MaxFloat64 / 4
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row assigned to column j (1-indexed), 0 = none
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := 0; j <= n; j++ {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := a[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
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
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	result := make([]int, nRows)
	for i := range result {
		result[i] = -1
	}
	for j := 1; j <= n; j++ {
		row := p[j]
		if row == 0 {
			continue
		}
		r, c := row-1, j-1
		if r < nRows && c < nCols && a[r][c] < infCost {
			result[r] = c
		}
	}
	return result
}
