package client

import (
	"time"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

// RawObservation is a provider reading before normalization. Nil fields were
// not reported by the provider.
type RawObservation struct {
	ObservedAt                  *time.Time
	TemperatureC                *float64
	ApparentTemperatureC        *float64
	HumidityPct                 *float64
	WindSpeedKmh                *float64
	PrecipitationProbabilityPct *float64
	Condition                   models.ConditionCode
	Source                      string
}

func float64Ptr(v float64) *float64 {
	return &v
}
