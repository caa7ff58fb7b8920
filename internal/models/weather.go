package models

import (
	"errors"
	"fmt"
	"time"
)

type Location struct {
	ID              string  `json:"id" yaml:"id"`
	Name            string  `json:"name" yaml:"name"`
	Latitude        float64 `json:"latitude" yaml:"latitude"`
	Longitude       float64 `json:"longitude" yaml:"longitude"`
	IntervalMinutes int     `json:"interval_minutes" yaml:"interval_minutes"`
	Active          bool    `json:"active" yaml:"active"`
}

// Interval is the collection cadence of the location.
func (l Location) Interval() time.Duration {
	return time.Duration(l.IntervalMinutes) * time.Minute
}

func (l Location) Validate() error {
	if l.Name == "" {
		return errors.New("location name is required")
	}
	if l.IntervalMinutes <= 0 {
		return fmt.Errorf("location %q: interval must be positive, got %d minutes", l.Name, l.IntervalMinutes)
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("location %q: latitude %.4f out of range", l.Name, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("location %q: longitude %.4f out of range", l.Name, l.Longitude)
	}
	return nil
}

type ConditionCode string

const (
	ConditionClear        ConditionCode = "clear"
	ConditionPartlyCloudy ConditionCode = "partly_cloudy"
	ConditionCloudy       ConditionCode = "cloudy"
	ConditionFog          ConditionCode = "fog"
	ConditionDrizzle      ConditionCode = "drizzle"
	ConditionRain         ConditionCode = "rain"
	ConditionSnow         ConditionCode = "snow"
	ConditionShowers      ConditionCode = "showers"
	ConditionThunderstorm ConditionCode = "thunderstorm"
	ConditionUnknown      ConditionCode = "unknown"
)

// WeatherSample is one normalized observation. Values are never mutated
// after normalization.
type WeatherSample struct {
	ID                          string        `json:"id"`
	LocationID                  string        `json:"location_id"`
	City                        string        `json:"city"`
	CollectedAt                 time.Time     `json:"collected_at"`
	TemperatureC                float64       `json:"temperature_c"`
	FeelsLikeC                  float64       `json:"feels_like_c"`
	HumidityPct                 float64       `json:"humidity_pct"`
	WindSpeedKmh                float64       `json:"wind_speed_kmh"`
	PrecipitationProbabilityPct float64       `json:"precipitation_probability_pct"`
	ConditionCode               ConditionCode `json:"condition_code"`
	Source                      string        `json:"source"`
}

type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

type AggregateWindow struct {
	LocationID        string        `json:"location_id"`
	WindowStart       time.Time     `json:"window_start"`
	WindowEnd         time.Time     `json:"window_end"`
	SampleCount       int           `json:"sample_count"`
	AvgTemp           float64       `json:"avg_temp"`
	MinTemp           float64       `json:"min_temp"`
	MaxTemp           float64       `json:"max_temp"`
	AvgHumidity       float64       `json:"avg_humidity"`
	AvgWind           float64       `json:"avg_wind"`
	AvgPrecipitation  float64       `json:"avg_precipitation"`
	DominantCondition ConditionCode `json:"dominant_condition"`
	Trend             Trend         `json:"trend"`
}

// Empty reports whether the window was computed over zero samples.
func (w AggregateWindow) Empty() bool {
	return w.SampleCount == 0
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

type Alert struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

type NarrativeSource string

const (
	NarrativeLLM      NarrativeSource = "llm"
	NarrativeFallback NarrativeSource = "fallback"
)

type InsightReport struct {
	LocationID      string          `json:"location_id"`
	LocationName    string          `json:"location_name"`
	Period          string          `json:"period"`
	GeneratedAt     time.Time       `json:"generated_at"`
	Statistics      AggregateWindow `json:"statistics"`
	Classification  string          `json:"classification"`
	Alerts          []Alert         `json:"alerts"`
	ComfortScore    int             `json:"comfort_score"`
	Narrative       string          `json:"narrative"`
	NarrativeSource NarrativeSource `json:"narrative_source"`
}

// SampleFilter narrows stored samples. Zero values mean "no bound".
type SampleFilter struct {
	LocationID string
	From       time.Time
	To         time.Time
}

// Matches reports whether s falls inside the filter; bounds are inclusive.
func (f SampleFilter) Matches(s WeatherSample) bool {
	if f.LocationID != "" && s.LocationID != f.LocationID {
		return false
	}
	if !f.From.IsZero() && s.CollectedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.CollectedAt.After(f.To) {
		return false
	}
	return true
}

type PageRequest struct {
	Offset     int
	Limit      int
	Descending bool
}

// ErrInvalidPage is returned for a negative offset or limit.
var ErrInvalidPage = errors.New("invalid page request")

func (p PageRequest) Validate() error {
	if p.Offset < 0 || p.Limit < 0 {
		return fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidPage, p.Offset, p.Limit)
	}
	return nil
}

type PaginatedSamples struct {
	Data       []WeatherSample `json:"data"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}
