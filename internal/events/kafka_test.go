package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	msgs   []kafkago.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var collectedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestSampleMessage(t *testing.T) {
	msg, err := sampleMessage(models.WeatherSample{
		LocationID:    "florianopolis",
		CollectedAt:   collectedAt,
		TemperatureC:  22.5,
		ConditionCode: models.ConditionClear,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("florianopolis"), msg.Key)
	assert.Contains(t, string(msg.Value), `"temperature_c":22.5`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte(EventSampleStored), msg.Headers[0].Value)
	assert.Equal(t, []byte("2024-05-01T10:00:00Z"), msg.Headers[1].Value)
}

func TestPublisherListeners(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, logger: zap.NewNop()}

	p.OnSample(context.Background(), models.WeatherSample{LocationID: "recife", CollectedAt: collectedAt})
	p.OnReport(context.Background(), &models.InsightReport{LocationID: "recife", GeneratedAt: collectedAt, Classification: "quente"})

	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte(EventInsightGenerated), w.msgs[1].Headers[0].Value)
	assert.Contains(t, string(w.msgs[1].Value), `"classification":"quente"`)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisherFailureIsAbsorbed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	p := &Publisher{writer: w, logger: zap.NewNop()}

	assert.Error(t, p.PublishSample(context.Background(), models.WeatherSample{LocationID: "recife"}))
	assert.NotPanics(t, func() {
		p.OnSample(context.Background(), models.WeatherSample{LocationID: "recife"})
	})
}
