package main

import (
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/linetrace/linetrace/internal/config"
)

// newKafkaMirror builds a kafka.Writer for progress-event mirroring from
// LINETRACE_KAFKA_BROKERS/LINETRACE_KAFKA_TOPIC, or returns nil if no
// broker list is configured — Kafka mirroring is optional for a
// single-workstation deployment.
func newKafkaMirror() *kafka.Writer {
	brokerList := config.GetEnvStr("LINETRACE_KAFKA_BROKERS", "")
	if brokerList == "" {
		return nil
	}

	topic := config.GetEnvStr("LINETRACE_KAFKA_TOPIC", "linetrace.watcher.progress")

	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokerList, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}
