package eventbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicPatternEvents(patternID string) string {
	return fmt.Sprintf("events.pattern.%s", patternID)
}

func TopicValidation(patternID string) string {
	return fmt.Sprintf("events.validation.%s", patternID)
}

func TopicRecovery(patternID string) string {
	return fmt.Sprintf("events.recovery.%s", patternID)
}

func TopicMetrics(patternID string) string {
	return fmt.Sprintf("metrics.pattern.%s", patternID)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsPatterns = "events.pattern.*"
	TopicEventsSchedule = "events.schedule"
	TopicMetricsAll     = "metrics.>"
)
