package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

// categoryCount holds a category and the number of tests in it.
type categoryCount struct {
	Category model.Category
	Count    int
}

// sortedCategories returns the non-zero counts by count (descending), then in
// taxonomy order.
func sortedCategories(counts map[model.Category]int) []categoryCount {
	order := make(map[model.Category]int, len(model.Categories))
	for i, c := range model.Categories {
		order[c] = i
	}

	result := make([]categoryCount, 0, len(counts))
	for c, n := range counts {
		if n > 0 {
			result = append(result, categoryCount{Category: c, Count: n})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return order[result[i].Category] < order[result[j].Category]
	})
	return result
}

// failedRuns returns the run indexes in which rec failed.
func failedRuns(rec model.TestRecord) []int {
	var runs []int
	for i, passed := range rec.ObservedOutcomes {
		if !passed && i < len(rec.RunIndexes) {
			runs = append(runs, rec.RunIndexes[i])
		}
	}
	return runs
}

func healthLabel(h model.Health) string {
	if h == "" {
		return ""
	}
	return strings.ToUpper(string(h[:1])) + string(h[1:])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000.0
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	return fmt.Sprintf("%.1fm", secs/60.0)
}

// formatRunIndices formats run indexes as a comma-separated list.
func formatRunIndices(indices []int) string {
	strs := make([]string, len(indices))
	for i, idx := range indices {
		strs[i] = strconv.Itoa(idx)
	}
	return strings.Join(strs, ", ")
}

// truncateForTerminal flattens s to one line of at most maxLen characters.
func truncateForTerminal(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
