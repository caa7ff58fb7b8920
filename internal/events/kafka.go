package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

const (
	EventSampleStored     = "sample.stored"
	EventInsightGenerated = "insight.generated"

	publishTimeout = 3 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher emits sample and report events to a Kafka topic, keyed by
// location id so one location's events stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger}
}

func (p *Publisher) PublishSample(ctx context.Context, sample models.WeatherSample) error {
	msg, err := sampleMessage(sample)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) PublishReport(ctx context.Context, report *models.InsightReport) error {
	msg, err := reportMessage(report)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// OnSample adapts PublishSample to an ingestion listener. Failures are
// logged; storage has already succeeded.
func (p *Publisher) OnSample(ctx context.Context, sample models.WeatherSample) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.PublishSample(ctx, sample); err != nil {
		p.logger.Warn("Failed to publish sample event",
			zap.String("location", sample.LocationID),
			zap.Error(err))
	}
}

func (p *Publisher) OnReport(ctx context.Context, report *models.InsightReport) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.PublishReport(ctx, report); err != nil {
		p.logger.Warn("Failed to publish insight event",
			zap.String("location", report.LocationID),
			zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func sampleMessage(sample models.WeatherSample) (kafkago.Message, error) {
	data, err := json.Marshal(sample)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize sample: %w", err)
	}
	return newMessage(sample.LocationID, EventSampleStored, sample.CollectedAt, data), nil
}

func reportMessage(report *models.InsightReport) (kafkago.Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize insight report: %w", err)
	}
	return newMessage(report.LocationID, EventInsightGenerated, report.GeneratedAt, data), nil
}

func newMessage(key, eventType string, at time.Time, value []byte) kafkago.Message {
	return kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "occurred_at", Value: []byte(at.UTC().Format(time.RFC3339))},
		},
	}
}
