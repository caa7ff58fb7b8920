package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

const DefaultTrendEpsilon = 0.5

type SampleReader interface {
	SamplesInRange(ctx context.Context, locationID string, from, to time.Time) ([]models.WeatherSample, error)
}

type StatisticsEngine struct {
	store   SampleReader
	clock   clockwork.Clock
	epsilon float64
}

func NewStatisticsEngine(store SampleReader, epsilon float64, clock clockwork.Clock) *StatisticsEngine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if epsilon < 0 {
		epsilon = DefaultTrendEpsilon
	}
	return &StatisticsEngine{
		store:   store,
		clock:   clock,
		epsilon: epsilon,
	}
}

// ComputeWindow aggregates samples collected in [now-lookback, now]. No
// samples is not an error: the window is returned empty with a stable trend.
func (e *StatisticsEngine) ComputeWindow(ctx context.Context, locationID string, lookback time.Duration) (models.AggregateWindow, error) {
	end := e.clock.Now().UTC()
	start := end.Add(-lookback)

	samples, err := e.store.SamplesInRange(ctx, locationID, start, end)
	if err != nil {
		return EmptyWindow(locationID, start, end), fmt.Errorf("load samples for %s: %w", locationID, err)
	}

	return Aggregate(locationID, start, end, samples, e.epsilon), nil
}

func EmptyWindow(locationID string, start, end time.Time) models.AggregateWindow {
	return models.AggregateWindow{
		LocationID:        locationID,
		WindowStart:       start,
		WindowEnd:         end,
		DominantCondition: models.ConditionUnknown,
		Trend:             models.TrendStable,
	}
}

// Aggregate summarizes samples, which must be ordered by CollectedAt.
func Aggregate(locationID string, start, end time.Time, samples []models.WeatherSample, epsilon float64) models.AggregateWindow {
	window := EmptyWindow(locationID, start, end)
	if len(samples) == 0 {
		return window
	}

	var sumTemp, sumHumidity, sumWind, sumPrecip float64
	minTemp, maxTemp := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		sumTemp += s.TemperatureC
		sumHumidity += s.HumidityPct
		sumWind += s.WindSpeedKmh
		sumPrecip += s.PrecipitationProbabilityPct
		minTemp = math.Min(minTemp, s.TemperatureC)
		maxTemp = math.Max(maxTemp, s.TemperatureC)
	}

	n := float64(len(samples))
	window.SampleCount = len(samples)
	window.AvgTemp = sumTemp / n
	window.MinTemp = minTemp
	window.MaxTemp = maxTemp
	window.AvgHumidity = sumHumidity / n
	window.AvgWind = sumWind / n
	window.AvgPrecipitation = sumPrecip / n
	window.DominantCondition = dominantCondition(samples)
	window.Trend = computeTrend(samples, epsilon)

	return window
}

// computeTrend compares the mean temperature of the first and last thirds.
func computeTrend(samples []models.WeatherSample, epsilon float64) models.Trend {
	n := len(samples)
	if n < 2 {
		return models.TrendStable
	}

	k := n / 3
	if k < 1 {
		k = 1
	}

	diff := meanTemp(samples[n-k:]) - meanTemp(samples[:k])
	switch {
	case diff > epsilon:
		return models.TrendRising
	case diff < -epsilon:
		return models.TrendFalling
	default:
		return models.TrendStable
	}
}

func meanTemp(samples []models.WeatherSample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.TemperatureC
	}
	return sum / float64(len(samples))
}

// dominantCondition returns the most frequent condition; ties go to the one
// seen most recently.
func dominantCondition(samples []models.WeatherSample) models.ConditionCode {
	counts := make(map[models.ConditionCode]int)
	lastSeen := make(map[models.ConditionCode]int)
	for i, s := range samples {
		counts[s.ConditionCode]++
		lastSeen[s.ConditionCode] = i
	}

	best := models.ConditionUnknown
	bestCount, bestSeen := 0, -1
	for code, count := range counts {
		if count > bestCount || (count == bestCount && lastSeen[code] > bestSeen) {
			best, bestCount, bestSeen = code, count, lastSeen[code]
		}
	}
	return best
}
