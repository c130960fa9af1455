package runner

import (
	"math"
	"sort"
)

// Allocate splits n users across tasks by weight. Each task gets
// round(n*w/Σw); when rounding leaves the total off by a few users, the
// difference goes to the tasks with the largest fractional shares so that
// the counts always sum to n. With Σw == 0 every task gets n/len(tasks).
func Allocate(n int, tasks []Task) []int {
	counts := make([]int, len(tasks))
	if len(tasks) == 0 || n <= 0 {
		return counts
	}

	sum := 0
	for _, t := range tasks {
		if w := t.Weight(); w > 0 {
			sum += w
		}
	}
	if sum == 0 {
		for i := range counts {
			counts[i] = n / len(tasks)
		}
		return counts
	}

	exact := make([]float64, len(tasks))
	assigned := 0
	for i, t := range tasks {
		w := t.Weight()
		if w <= 0 {
			continue
		}
		exact[i] = float64(n) * float64(w) / float64(sum)
		counts[i] = int(math.Round(exact[i]))
		assigned += counts[i]
	}
	if assigned == n {
		return counts
	}

	order := make([]int, 0, len(tasks))
	for i, t := range tasks {
		if t.Weight() > 0 {
			order = append(order, i)
		}
	}
	// remainder relative to the rounded count; ties go to the earlier task
	rem := func(i int) float64 { return exact[i] - float64(counts[i]) }
	if assigned < n {
		sort.SliceStable(order, func(a, b int) bool { return rem(order[a]) > rem(order[b]) })
		for k := 0; assigned < n; k = (k + 1) % len(order) {
			counts[order[k]]++
			assigned++
		}
	} else {
		sort.SliceStable(order, func(a, b int) bool { return rem(order[a]) < rem(order[b]) })
		for k := 0; assigned > n; k = (k + 1) % len(order) {
			if counts[order[k]] > 0 {
				counts[order[k]]--
				assigned--
			}
		}
	}
	return counts
}
