package firefighter

import "time"

// 风险评分规则
const (
	longDurationThreshold     = 4 * time.Hour
	veryLongDurationThreshold = 6 * time.Hour
	businessHourStart         = 8
	businessHourEnd           = 18
)

var priorityBase = map[Priority]int{
	PriorityLow:      10,
	PriorityMedium:   30,
	PriorityHigh:     50,
	PriorityCritical: 70,
}

// AssessRequestRisk 计算请求风险分（0-100），纯函数
func AssessRequestRisk(priority Priority, duration time.Duration, submittedAt time.Time) int {
	score, ok := priorityBase[priority]
	if !ok {
		score = priorityBase[PriorityMedium]
	}

	if duration > longDurationThreshold {
		score += 15
	}
	if duration > veryLongDurationThreshold {
		score += 10
	}

	if hour := submittedAt.Hour(); hour < businessHourStart || hour >= businessHourEnd {
		score += 15
	}

	switch submittedAt.Weekday() {
	case time.Saturday, time.Sunday:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
