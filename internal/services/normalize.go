package services

import (
	"math"
	"time"

	"github.com/bobby-s-dev/weather-insights/internal/models"
	"github.com/bobby-s-dev/weather-insights/pkg/client"
)

// Normalize converts a provider reading into a sample. Missing numbers become
// zero, temperature and wind are rounded to one decimal, percentages are
// clamped to [0, 100] and a missing observation time falls back to
// collectedAt.
func Normalize(loc models.Location, obs *client.RawObservation, collectedAt time.Time) models.WeatherSample {
	sample := models.WeatherSample{
		LocationID:    loc.ID,
		City:          loc.Name,
		CollectedAt:   collectedAt.UTC().Truncate(time.Second),
		ConditionCode: models.ConditionUnknown,
	}
	if obs == nil {
		return sample
	}

	if obs.ObservedAt != nil && !obs.ObservedAt.IsZero() {
		sample.CollectedAt = obs.ObservedAt.UTC()
	}

	sample.TemperatureC = round1(valueOrZero(obs.TemperatureC))
	sample.FeelsLikeC = sample.TemperatureC
	if obs.ApparentTemperatureC != nil {
		sample.FeelsLikeC = round1(*obs.ApparentTemperatureC)
	}
	sample.HumidityPct = clampPct(valueOrZero(obs.HumidityPct))
	sample.WindSpeedKmh = round1(math.Max(0, valueOrZero(obs.WindSpeedKmh)))
	sample.PrecipitationProbabilityPct = clampPct(valueOrZero(obs.PrecipitationProbabilityPct))
	sample.Source = obs.Source

	if obs.Condition != "" {
		sample.ConditionCode = obs.Condition
	}

	return sample
}

func valueOrZero(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampPct(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
