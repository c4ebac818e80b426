package service

import (
	"testing"
	"time"

	"github.com/mmeshcher/clubpoints-system/internal/model"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name       string
		comparator model.Comparator
		current    int64
		threshold  int64
		want       bool
	}{
		{name: "at least met", comparator: model.CompareAtLeast, current: 10, threshold: 10, want: true},
		{name: "at least not met", comparator: model.CompareAtLeast, current: 9, threshold: 10, want: false},
		{name: "above met", comparator: model.CompareAbove, current: 11, threshold: 10, want: true},
		{name: "above equal not met", comparator: model.CompareAbove, current: 10, threshold: 10, want: false},
		{name: "at most met", comparator: model.CompareAtMost, current: 3, threshold: 10, want: true},
		{name: "at most not met", comparator: model.CompareAtMost, current: 11, threshold: 10, want: false},
		{name: "equal met", comparator: model.CompareEqual, current: 10, threshold: 10, want: true},
		{name: "equal not met", comparator: model.CompareEqual, current: 9, threshold: 10, want: false},
		{name: "unknown comparator", comparator: model.Comparator("~"), current: 10, threshold: 10, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compare(tt.comparator, tt.current, tt.threshold); got != tt.want {
				t.Errorf("compare(%q, %d, %d) = %v, want %v",
					tt.comparator, tt.current, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition_UnrankedNeverSatisfiesRank(t *testing.T) {
	// условие «позиция не выше 10» не должно срабатывать для пользователя
	// вне рейтинга, несмотря на то что нулевая позиция проходит сравнение <= 10
	a := model.Achievement{
		Metric:     model.MetricLeaderboardRank,
		Comparator: model.CompareAtMost,
		Threshold:  10,
	}

	value, satisfied := evaluateCondition(a, metricSet{rank: model.RankValue{}})
	if satisfied {
		t.Fatalf("unranked user satisfied a rank condition")
	}
	if value != 0 {
		t.Fatalf("value = %d, want 0", value)
	}

	value, satisfied = evaluateCondition(a, metricSet{rank: model.RankValue{Position: 5, Ranked: true}})
	if !satisfied {
		t.Fatalf("ranked user at position 5 did not satisfy <= 10")
	}
	if value != 5 {
		t.Fatalf("value = %d, want 5", value)
	}
}

func TestProgressValue(t *testing.T) {
	tests := []struct {
		name        string
		achievement model.Achievement
		value       int64
		want        int64
	}{
		{
			name:        "cumulative capped at threshold",
			achievement: model.Achievement{Comparator: model.CompareAtLeast, Threshold: 100},
			value:       250,
			want:        100,
		},
		{
			name:        "cumulative below threshold kept",
			achievement: model.Achievement{Comparator: model.CompareAtLeast, Threshold: 100},
			value:       60,
			want:        60,
		},
		{
			name:        "rank style value not capped",
			achievement: model.Achievement{Comparator: model.CompareAtMost, Threshold: 10},
			value:       42,
			want:        42,
		},
		{
			name:        "negative clamps to zero",
			achievement: model.Achievement{Comparator: model.CompareAtLeast, Threshold: 100},
			value:       -5,
			want:        0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressValue(tt.achievement, tt.value); got != tt.want {
				t.Errorf("progressValue = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMonthsBetween(t *testing.T) {
	date := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int64
	}{
		{name: "same day", from: date(2026, time.January, 15), to: date(2026, time.January, 15), want: 0},
		{name: "one day short of a month", from: date(2026, time.January, 15), to: date(2026, time.February, 14), want: 0},
		{name: "exactly one month", from: date(2026, time.January, 15), to: date(2026, time.February, 15), want: 1},
		{name: "across year boundary", from: date(2025, time.November, 1), to: date(2026, time.February, 1), want: 3},
		{name: "to before from", from: date(2026, time.March, 1), to: date(2026, time.January, 1), want: 0},
		{name: "several years", from: date(2024, time.June, 10), to: date(2026, time.June, 9), want: 23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := monthsBetween(tt.from, tt.to); got != tt.want {
				t.Errorf("monthsBetween(%v, %v) = %d, want %d", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
