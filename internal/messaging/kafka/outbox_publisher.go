package kafka

import (
	"context"
	"errors"
	"strconv"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher публикует outbox-записи в Kafka.
// Пустой topic означает «топик записи»; иначе все записи идут в topic (так устроен DLQ).
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт паблишер, отправляющий запись в её собственный топик.
func NewOutboxPublisher(producer *Producer) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

// NewDLQPublisher создаёт паблишер для записей, исчерпавших попытки доставки.
func NewDLQPublisher(producer *Producer) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer, topic: TopicDeadLetterQueue}
}

// Publish отправляет payload записи с ключом AggregateID, чтобы события одного агрегата шли по порядку.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, record domain.OutboxRecord) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	key := record.AggregateID
	if key == "" {
		key = record.ID
	}

	topic := record.Topic
	headers := []sarama.RecordHeader{
		header(HeaderEventType, record.EventType),
		header(HeaderOutboxID, record.ID),
	}
	if p.topic != "" {
		topic = p.topic
		headers = append(headers,
			header(HeaderOriginalTopic, record.Topic),
			header(HeaderRetryCount, strconv.Itoa(record.Attempts)),
			header(HeaderErrorMessage, record.ErrorMessage),
		)
	}

	return p.producer.Send(ctx, topic, key, record.Payload, headers...)
}

var _ domain.EventPublisher = (*OutboxTopicPublisher)(nil)
