package domain

import "time"

// TimelineEvent описывает шаг в жизненном цикле заказа или брони (аудит саги).
type TimelineEvent struct {
	AggregateID string
	Step        SagaStep
	Detail      string
	Occurred    time.Time
}
