package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBody_SortsByPeriod(t *testing.T) {
	t.Parallel()
	lessons := []Lesson{
		{Period: 2, HasPeriod: true, Subject: "수학"},
		{Period: 1, HasPeriod: true, Subject: "국어"},
	}
	assert.Equal(t, "1교시: 국어\n2교시: 수학", FormatBody(lessons))
}

func TestFormatBody_EmptyUsesGenericBody(t *testing.T) {
	t.Parallel()
	assert.Equal(t, GenericBody, FormatBody(nil))
	assert.Equal(t, GenericBody, FormatBody([]Lesson{}))
}

func TestFormatBody_UnnumberedLessonsLabeledByPosition(t *testing.T) {
	t.Parallel()
	lessons := []Lesson{
		{Subject: "자율활동"},
		{Period: 1, HasPeriod: true, Subject: "국어"},
	}
	// The unnumbered row sorts last and takes its 1-based position as label.
	assert.Equal(t, "1교시: 국어\n2교시: 자율활동", FormatBody(lessons))
}

func TestFormatBody_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	lessons := []Lesson{
		{Period: 3, HasPeriod: true, Subject: "영어"},
		{Period: 1, HasPeriod: true, Subject: "국어"},
	}
	_ = FormatBody(lessons)
	assert.Equal(t, 3, lessons[0].Period)
	assert.Equal(t, 1, lessons[1].Period)
}

func TestSortLessons_UnnumberedKeepRelativeOrder(t *testing.T) {
	t.Parallel()
	lessons := []Lesson{
		{Subject: "동아리"},
		{Period: 2, HasPeriod: true, Subject: "수학"},
		{Subject: "자율활동"},
		{Period: 1, HasPeriod: true, Subject: "국어"},
	}
	SortLessons(lessons)

	want := []Lesson{
		{Period: 1, HasPeriod: true, Subject: "국어"},
		{Period: 2, HasPeriod: true, Subject: "수학"},
		{Subject: "동아리"},
		{Subject: "자율활동"},
	}
	assert.Equal(t, want, lessons)
}
