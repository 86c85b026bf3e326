package firefighter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAssessRequestRisk(t *testing.T) {
	// 2026-10-14 是周三
	weekdayNoon := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	weekdayNight := time.Date(2026, 10, 14, 22, 30, 0, 0, time.UTC)
	saturdayNight := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		priority Priority
		duration time.Duration
		at       time.Time
		want     int
	}{
		{"低优先级工作时间", PriorityLow, time.Hour, weekdayNoon, 10},
		{"中优先级", PriorityMedium, time.Hour, weekdayNoon, 30},
		{"高优先级", PriorityHigh, time.Hour, weekdayNoon, 50},
		{"紧急优先级", PriorityCritical, time.Hour, weekdayNoon, 70},
		{"恰好 4 小时不加分", PriorityLow, 4 * time.Hour, weekdayNoon, 10},
		{"超过 4 小时", PriorityLow, 5 * time.Hour, weekdayNoon, 25},
		{"超过 6 小时", PriorityLow, 7 * time.Hour, weekdayNoon, 35},
		{"非工作时间", PriorityLow, time.Hour, weekdayNight, 25},
		{"18 点整视为非工作时间", PriorityLow, time.Hour, time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC), 25},
		{"8 点整视为工作时间", PriorityLow, time.Hour, time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC), 10},
		{"周末深夜", PriorityLow, time.Hour, saturdayNight, 35},
		{"封顶 100", PriorityCritical, 8 * time.Hour, saturdayNight, 100},
		{"未知优先级按中处理", Priority("weird"), time.Hour, weekdayNoon, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, AssessRequestRisk(tc.priority, tc.duration, tc.at))
		})
	}
}

func TestAssessRequestRiskBounds(t *testing.T) {
	start := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24*7; h += 5 {
		for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
			score := AssessRequestRisk(p, time.Duration(h%10)*time.Hour, start.Add(time.Duration(h)*time.Hour))
			require.GreaterOrEqual(t, score, 0)
			require.LessOrEqual(t, score, 100)
		}
	}
}
