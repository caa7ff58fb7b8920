package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/metrics"
	"github.com/bobby-s-dev/weather-insights/internal/models"
	"github.com/bobby-s-dev/weather-insights/internal/store"
)

type stubNarrator struct {
	text  string
	err   error
	delay time.Duration
	calls int32
}

func (n *stubNarrator) Narrate(_ context.Context, _ string) (string, error) {
	atomic.AddInt32(&n.calls, 1)
	if n.delay > 0 {
		// Ignores ctx on purpose to check the generator does not wait.
		time.Sleep(n.delay)
	}
	return n.text, n.err
}

type insightFixture struct {
	gen     *InsightGenerator
	cache   *MemoryReportCache
	metrics *metrics.Metrics
	clock   clockwork.FakeClock
}

func newInsightFixture(t *testing.T, reader SampleReader, narrator Narrator) *insightFixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(t0.Add(time.Hour))
	classifier, err := NewClassifier(nil, nil)
	require.NoError(t, err)

	cache := NewMemoryReportCache(10*time.Minute, 16, clock, zap.NewNop())
	t.Cleanup(cache.Stop)

	m := metrics.NewMetricsForTesting()
	gen := NewInsightGenerator(
		staticLocations{"florianopolis": floripa()},
		NewStatisticsEngine(reader, DefaultTrendEpsilon, clock),
		classifier,
		narrator,
		cache,
		InsightConfig{LLMTimeout: 50 * time.Millisecond},
		clock,
		zap.NewNop(),
		m,
	)
	return &insightFixture{gen: gen, cache: cache, metrics: m, clock: clock}
}

func floripaStore(t *testing.T) *store.MemoryStore {
	return seededStore(t,
		sample(t0, 22, 60, 10),
		sample(t0.Add(30*time.Minute), 24, 58, 12),
		sample(t0.Add(time.Hour), 27, 55, 15),
	)
}

func TestGenerateWithoutNarratorUsesFallback(t *testing.T) {
	fx := newInsightFixture(t, floripaStore(t), nil)

	report, err := fx.gen.Generate(context.Background(), "florianopolis", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "Florianópolis", report.LocationName)
	assert.Equal(t, "agradável", report.Classification)
	assert.Equal(t, models.TrendRising, report.Statistics.Trend)
	assert.Empty(t, report.Alerts)
	assert.Equal(t, models.NarrativeFallback, report.NarrativeSource)
	assert.Contains(t, report.Narrative, "Florianópolis")
	assert.Contains(t, report.Narrative, "em alta")
	assert.Equal(t, t0.Add(time.Hour), report.GeneratedAt)
}

func TestGenerateNarratorFailuresFallBack(t *testing.T) {
	tests := []struct {
		name     string
		narrator *stubNarrator
	}{
		{"error", &stubNarrator{err: errors.New("rate limited")}},
		{"empty text", &stubNarrator{text: "   "}},
		{"too slow", &stubNarrator{text: "late", delay: 500 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newInsightFixture(t, floripaStore(t), tt.narrator)

			start := time.Now()
			report, err := fx.gen.Generate(context.Background(), "florianopolis", time.Hour)
			require.NoError(t, err)

			assert.Less(t, time.Since(start), 400*time.Millisecond)
			assert.Equal(t, models.NarrativeFallback, report.NarrativeSource)
			assert.NotEmpty(t, report.Narrative)
			assert.Equal(t, int32(1), atomic.LoadInt32(&tt.narrator.calls))
			assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.InsightsGenerated.WithLabelValues("fallback")))
		})
	}
}

func TestGenerateUsesNarratorText(t *testing.T) {
	narrator := &stubNarrator{text: "  Dia agradável em Florianópolis.  "}
	fx := newInsightFixture(t, floripaStore(t), narrator)

	report, err := fx.gen.Generate(context.Background(), "florianopolis", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, models.NarrativeLLM, report.NarrativeSource)
	assert.Equal(t, "Dia agradável em Florianópolis.", report.Narrative)
}

func TestGenerateUnknownLocation(t *testing.T) {
	fx := newInsightFixture(t, floripaStore(t), nil)

	_, err := fx.gen.Generate(context.Background(), "recife", time.Hour)
	assert.ErrorIs(t, err, ErrUnknownLocation)

	_, err = fx.gen.Latest(context.Background(), "recife", time.Hour)
	assert.ErrorIs(t, err, ErrUnknownLocation)
}

func TestGenerateStoreFailureDegrades(t *testing.T) {
	fx := newInsightFixture(t, failingReader{}, nil)

	report, err := fx.gen.Generate(context.Background(), "florianopolis", time.Hour)
	require.NoError(t, err)

	assert.True(t, report.Statistics.Empty())
	assert.Equal(t, ClassificationUnavailable, report.Classification)
	assert.Equal(t, 0, report.ComfortScore)
	assert.Contains(t, report.Narrative, "Não há observações")
}

func TestLatestCachesUntilInvalidated(t *testing.T) {
	narrator := &stubNarrator{text: "resumo"}
	fx := newInsightFixture(t, floripaStore(t), narrator)
	ctx := context.Background()

	var published int32
	fx.gen.AddListener(func(context.Context, *models.InsightReport) { atomic.AddInt32(&published, 1) })

	first, err := fx.gen.Latest(ctx, "florianopolis", time.Hour)
	require.NoError(t, err)
	second, err := fx.gen.Latest(ctx, "florianopolis", time.Hour)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&narrator.calls))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.ReportCache.WithLabelValues("hit")))

	// Another period is cached separately.
	_, err = fx.gen.Latest(ctx, "florianopolis", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&narrator.calls))

	fx.gen.InvalidateOnSample(ctx, sample(t0.Add(time.Hour), 30, 50, 5))

	third, err := fx.gen.Latest(ctx, "florianopolis", time.Hour)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(3), atomic.LoadInt32(&narrator.calls))
	assert.Equal(t, int32(3), atomic.LoadInt32(&published))
}

// arrivingNarrator simulates a sample being stored while the report is
// being narrated.
type arrivingNarrator struct {
	onNarrate func()
}

func (n *arrivingNarrator) Narrate(context.Context, string) (string, error) {
	n.onNarrate()
	return "resumo", nil
}

func TestReportNotCachedWhenSampleArrivesDuringGeneration(t *testing.T) {
	narrator := &arrivingNarrator{}
	fx := newInsightFixture(t, floripaStore(t), narrator)
	ctx := context.Background()

	arrivals := 0
	narrator.onNarrate = func() {
		if arrivals == 0 {
			fx.gen.InvalidateOnSample(ctx, sample(t0.Add(time.Hour), 30, 50, 5))
		}
		arrivals++
	}

	report, err := fx.gen.Latest(ctx, "florianopolis", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, models.NarrativeLLM, report.NarrativeSource)

	_, ok := fx.cache.Get(ctx, "florianopolis", time.Hour)
	assert.False(t, ok)

	// The next report reflects the new sample and is cached normally.
	_, err = fx.gen.Latest(ctx, "florianopolis", time.Hour)
	require.NoError(t, err)
	_, ok = fx.cache.Get(ctx, "florianopolis", time.Hour)
	assert.True(t, ok)
	assert.Equal(t, 2, arrivals)
}

func TestRegenerateBypassesCache(t *testing.T) {
	narrator := &stubNarrator{text: "resumo"}
	fx := newInsightFixture(t, floripaStore(t), narrator)
	ctx := context.Background()

	_, err := fx.gen.Latest(ctx, "florianopolis", time.Hour)
	require.NoError(t, err)
	regenerated, err := fx.gen.Regenerate(ctx, "florianopolis", time.Hour)
	require.NoError(t, err)

	cached, ok := fx.cache.Get(ctx, "florianopolis", time.Hour)
	require.True(t, ok)
	assert.Same(t, regenerated, cached)
	assert.Equal(t, int32(2), atomic.LoadInt32(&narrator.calls))
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	w := Aggregate("florianopolis", t0, t0.Add(time.Hour), []models.WeatherSample{
		sample(t0, 22, 60, 42),
		sample(t0.Add(time.Hour), 27, 55, 46),
	}, DefaultTrendEpsilon)
	classifier, err := NewClassifier(nil, nil)
	require.NoError(t, err)
	classification, alerts := classifier.Classify(w)

	input := NarrativeInput{
		LocationName:   "Florianópolis",
		Period:         24 * time.Hour,
		Window:         w,
		Classification: classification,
		Alerts:         alerts,
		ComfortScore:   ComfortScore(w),
	}

	prompt := BuildPrompt(input)
	assert.Equal(t, prompt, BuildPrompt(input))
	assert.Contains(t, prompt, "Local: Florianópolis")
	assert.Contains(t, prompt, "Período: 24 horas")
	assert.Contains(t, prompt, "- [warning] ventos fortes")
}

func TestFallbackNarrativeMentionsAlerts(t *testing.T) {
	w := window(36, 50, 45)
	w.MaxTemp = 38
	classifier, err := NewClassifier(nil, nil)
	require.NoError(t, err)
	classification, alerts := classifier.Classify(w)

	text := FallbackNarrative(NarrativeInput{
		LocationName:   "Teresina",
		Period:         7 * 24 * time.Hour,
		Window:         w,
		Classification: classification,
		Alerts:         alerts,
		ComfortScore:   ComfortScore(w),
	})

	assert.Contains(t, text, "Teresina")
	assert.Contains(t, text, "7 dias")
	assert.Contains(t, text, "Atenção: ventos fortes.")
	assert.Contains(t, text, "Perigo: calor extremo.")
	assert.Contains(t, text, "hidratado")
}

func TestFormatPeriod(t *testing.T) {
	assert.Equal(t, "24 horas", FormatPeriod(24*time.Hour))
	assert.Equal(t, "3 dias", FormatPeriod(72*time.Hour))
	assert.Equal(t, "1 hora", FormatPeriod(time.Hour))
	assert.Equal(t, "30 minutos", FormatPeriod(30*time.Minute))
	assert.Equal(t, "90 minutos", FormatPeriod(90*time.Minute))
	assert.Equal(t, "1m30s", FormatPeriod(90*time.Second))
}
