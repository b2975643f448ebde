package app

import (
	"testing"

	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

func TestInitKafkaProducerWithoutBrokers(t *testing.T) {
	producer, err := initKafkaProducer(nil, log.New().WithField("component", "test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if producer != nil {
		t.Fatalf("expected nil producer")
	}
}

func TestCloseKafka(t *testing.T) {
	logger := log.New().WithField("component", "test")

	closeKafka(nil, logger)

	mock := mocks.NewSyncProducer(t, nil)
	closeKafka(kafka.NewProducerFromSync(mock, logger), logger)
}
