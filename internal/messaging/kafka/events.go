package kafka

import "github.com/IBM/sarama"

// Topics для Kafka. Топики событий задаются самими событиями (domain.Topic*).
const (
	TopicDeadLetterQueue = "fulfillment.dlq" // Dead Letter Queue для failed messages
	// GroupRanking — consumer group проекции рейтинга товаров.
	GroupRanking = "fulfillment-ranking"
)

// Kafka headers
const (
	HeaderEventType = "x-event-type"
	HeaderOutboxID  = "x-outbox-id"

	// Для retry и DLQ
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

func header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}

// headerValue возвращает значение заголовка или пустую строку.
func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
