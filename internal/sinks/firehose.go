package sinks

import (
	"encoding/json"

	"lookout/internal/event"
	"lookout/pkg/kafka"
	"lookout/pkg/logging"
)

// FirehoseSink mirrors every delivered event onto a Kafka topic for
// downstream consumers. Delivery errors are logged and dropped; the
// pipeline never blocks on the broker.
type FirehoseSink struct {
	producer *kafka.Producer
	topic    string
	logger   logging.Logger
}

// NewFirehoseSink creates the sink over an existing producer.
func NewFirehoseSink(producer *kafka.Producer, topic string, logger logging.Logger) *FirehoseSink {
	return &FirehoseSink{producer: producer, topic: topic, logger: logger}
}

// Handle is the bus handler: encode the event and produce it keyed by
// primary id, with kind and username as record headers.
func (s *FirehoseSink) Handle(e *event.Event) {
	value, err := json.Marshal(e)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode event for firehose")
		return
	}

	headers := map[string]string{
		"event_type": string(e.Kind),
		"username":   e.User.Username,
	}
	if err := s.producer.Produce(s.topic, []byte(e.PrimaryID), value, headers); err != nil {
		s.logger.WithError(err).WithField("topic", s.topic).Error("Firehose produce failed")
	}
}
