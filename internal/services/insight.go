package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/metrics"
	"github.com/bobby-s-dev/weather-insights/internal/models"
)

// Narrator produces narrative text for a prompt within ctx's deadline.
type Narrator interface {
	Narrate(ctx context.Context, prompt string) (string, error)
}

type LocationLookup interface {
	Get(id string) (models.Location, bool)
}

// ReportListener runs after every generated report.
type ReportListener func(ctx context.Context, report *models.InsightReport)

type InsightGenerator struct {
	locations  LocationLookup
	stats      *StatisticsEngine
	classifier *Classifier
	narrator   Narrator
	cache      ReportCache
	llmTimeout time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu        sync.RWMutex
	listeners []ReportListener

	// generations counts invalidations per location so a report computed
	// before a new sample arrived is not cached afterwards.
	genMu       sync.Mutex
	generations map[string]uint64
}

type InsightConfig struct {
	LLMTimeout time.Duration
}

// NewInsightGenerator wires the generator. narrator may be nil, in which case
// every report uses the fallback narrative.
func NewInsightGenerator(
	locations LocationLookup,
	stats *StatisticsEngine,
	classifier *Classifier,
	narrator Narrator,
	cache ReportCache,
	cfg InsightConfig,
	clock clockwork.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) *InsightGenerator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InsightGenerator{
		locations:   locations,
		stats:       stats,
		classifier:  classifier,
		narrator:    narrator,
		cache:       cache,
		llmTimeout:  cfg.LLMTimeout,
		clock:       clock,
		logger:      logger,
		metrics:     m,
		generations: make(map[string]uint64),
	}
}

func (g *InsightGenerator) AddListener(fn ReportListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Latest returns the cached report for the location and period, generating
// one on a miss.
func (g *InsightGenerator) Latest(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, error) {
	if _, ok := g.locations.Get(locationID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}

	if g.cache != nil {
		if report, ok := g.cache.Get(ctx, locationID, period); ok {
			g.metrics.ReportCache.WithLabelValues("hit").Inc()
			return report, nil
		}
		g.metrics.ReportCache.WithLabelValues("miss").Inc()
	}

	return g.Regenerate(ctx, locationID, period)
}

// Regenerate always builds a new report and replaces the cached one.
func (g *InsightGenerator) Regenerate(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, error) {
	generation := g.generation(locationID)

	report, err := g.Generate(ctx, locationID, period)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		g.genMu.Lock()
		if g.generations[locationID] == generation {
			g.cache.Put(ctx, report, period)
		} else {
			g.logger.Debug("New sample arrived during generation, not caching report",
				zap.String("location", locationID))
		}
		g.genMu.Unlock()
	}

	g.mu.RLock()
	listeners := g.listeners
	g.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, report)
	}

	return report, nil
}

// Generate builds a report. Only an unknown location is an error; store and
// language model failures degrade to an empty window and the fallback
// narrative respectively.
func (g *InsightGenerator) Generate(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, error) {
	loc, ok := g.locations.Get(locationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}

	window, err := g.stats.ComputeWindow(ctx, locationID, period)
	if err != nil {
		g.logger.Error("Statistics unavailable, reporting empty window",
			zap.String("location", locationID),
			zap.Error(err))
	}

	classification, alerts := g.classifier.Classify(window)
	input := NarrativeInput{
		LocationName:   loc.Name,
		Period:         period,
		Window:         window,
		Classification: classification,
		Alerts:         alerts,
		ComfortScore:   ComfortScore(window),
	}

	report := &models.InsightReport{
		LocationID:     loc.ID,
		LocationName:   loc.Name,
		Period:         period.String(),
		GeneratedAt:    g.clock.Now().UTC(),
		Statistics:     window,
		Classification: classification,
		Alerts:         alerts,
		ComfortScore:   input.ComfortScore,
	}

	report.Narrative, report.NarrativeSource = g.narrate(ctx, input)
	g.metrics.InsightsGenerated.WithLabelValues(string(report.NarrativeSource)).Inc()

	g.logger.Info("Insight generated",
		zap.String("location", locationID),
		zap.Duration("period", period),
		zap.Int("samples", window.SampleCount),
		zap.String("classification", classification),
		zap.Int("alerts", len(alerts)),
		zap.String("narrative_source", string(report.NarrativeSource)))

	return report, nil
}

func (g *InsightGenerator) narrate(ctx context.Context, input NarrativeInput) (string, models.NarrativeSource) {
	if g.narrator == nil {
		return FallbackNarrative(input), models.NarrativeFallback
	}

	llmCtx, cancel := context.WithTimeout(ctx, g.llmTimeout)
	defer cancel()

	start := g.clock.Now()
	text, err := callWithTimeout(llmCtx, g.narrator, BuildPrompt(input))
	g.metrics.LLMDuration.Observe(g.clock.Since(start).Seconds())

	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		g.logger.Warn("Narrative generation failed, using fallback",
			zap.String("location", input.Window.LocationID),
			zap.Bool("empty", err == nil),
			zap.Error(err))
		return FallbackNarrative(input), models.NarrativeFallback
	}

	return text, models.NarrativeLLM
}

type narration struct {
	text string
	err  error
}

// callWithTimeout returns when the narrator answers or ctx ends, whichever
// comes first, even if the narrator ignores ctx.
func callWithTimeout(ctx context.Context, narrator Narrator, prompt string) (string, error) {
	result := make(chan narration, 1)
	go func() {
		text, err := narrator.Narrate(ctx, prompt)
		result <- narration{text: text, err: err}
	}()

	select {
	case r := <-result:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// InvalidateOnSample is a SampleListener dropping cached reports for the
// sample's location.
func (g *InsightGenerator) InvalidateOnSample(ctx context.Context, sample models.WeatherSample) {
	g.genMu.Lock()
	defer g.genMu.Unlock()

	g.generations[sample.LocationID]++
	if g.cache != nil {
		g.cache.Invalidate(ctx, sample.LocationID)
	}
}

func (g *InsightGenerator) generation(locationID string) uint64 {
	g.genMu.Lock()
	defer g.genMu.Unlock()
	return g.generations[locationID]
}
