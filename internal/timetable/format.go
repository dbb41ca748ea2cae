package timetable

import (
	"fmt"
	"sort"
	"strings"
)

// GenericBody is the notification body used when no lessons resolve.
const GenericBody = "오늘의 시간표를 확인해보세요!"

// SortLessons orders lessons ascending by period. Rows without a period
// number sort after every numbered row, keeping their original relative
// order among themselves.
func SortLessons(lessons []Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		a, b := lessons[i], lessons[j]
		switch {
		case a.HasPeriod && b.HasPeriod:
			return a.Period < b.Period
		case a.HasPeriod:
			return true
		default:
			return false
		}
	})
}

// FormatBody renders the notification body: one "<period>교시: <subject>"
// line per lesson, sorted, joined with newlines. Lessons without a period
// number are labeled by their 1-based position instead. Returns GenericBody
// when there are no lessons.
func FormatBody(lessons []Lesson) string {
	if len(lessons) == 0 {
		return GenericBody
	}

	sorted := make([]Lesson, len(lessons))
	copy(sorted, lessons)
	SortLessons(sorted)

	lines := make([]string, 0, len(sorted))
	for i, lesson := range sorted {
		label := lesson.Period
		if !lesson.HasPeriod {
			label = i + 1
		}
		lines = append(lines, fmt.Sprintf("%d교시: %s", label, lesson.Subject))
	}
	return strings.Join(lines, "\n")
}
