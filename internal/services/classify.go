package services

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

// ClassificationUnavailable is reported for windows without samples.
const ClassificationUnavailable = "indisponível"

// Band is an upper-bounded temperature class. Bands are evaluated in order;
// the last band must be unbounded.
type Band struct {
	Label      string
	Max        float64
	IncludeMax bool
}

func (b Band) contains(temp float64) bool {
	if b.IncludeMax {
		return temp <= b.Max
	}
	return temp < b.Max
}

func DefaultBands() []Band {
	return []Band{
		{Label: "frio", Max: 15},
		{Label: "agradável", Max: 30, IncludeMax: true},
		{Label: "quente", Max: math.Inf(1)},
	}
}

// ValidateBands checks that bands are ascending and end unbounded, which
// makes the classification contiguous and exhaustive.
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return errors.New("at least one classification band is required")
	}
	for i, b := range bands {
		if b.Label == "" {
			return fmt.Errorf("band %d has no label", i)
		}
		if i > 0 && b.Max <= bands[i-1].Max {
			return fmt.Errorf("band %q must have a higher bound than %q", b.Label, bands[i-1].Label)
		}
	}
	if !math.IsInf(bands[len(bands)-1].Max, 1) {
		return fmt.Errorf("last band %q must be unbounded", bands[len(bands)-1].Label)
	}
	return nil
}

// ParseBands reads "label<max", "label<=max" or a bare "label" (unbounded)
// entries separated by commas, e.g. "frio<15,agradável<=30,quente".
func ParseBands(value string) ([]Band, error) {
	var bands []Band
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		band := Band{Max: math.Inf(1)}
		label, bound := entry, ""
		if idx := strings.Index(entry, "<="); idx >= 0 {
			label, bound = entry[:idx], entry[idx+2:]
			band.IncludeMax = true
		} else if idx := strings.Index(entry, "<"); idx >= 0 {
			label, bound = entry[:idx], entry[idx+1:]
		}

		band.Label = strings.TrimSpace(label)
		if bound != "" {
			limit, err := strconv.ParseFloat(strings.TrimSpace(bound), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid bound in band %q: %w", entry, err)
			}
			band.Max = limit
		}
		bands = append(bands, band)
	}

	if err := ValidateBands(bands); err != nil {
		return nil, err
	}
	return bands, nil
}

type Metric string

const (
	MetricAvgTemp          Metric = "avg_temp"
	MetricMinTemp          Metric = "min_temp"
	MetricMaxTemp          Metric = "max_temp"
	MetricAvgHumidity      Metric = "avg_humidity"
	MetricAvgWind          Metric = "avg_wind"
	MetricAvgPrecipitation Metric = "avg_precipitation"
)

func (m Metric) value(w models.AggregateWindow) float64 {
	switch m {
	case MetricAvgTemp:
		return w.AvgTemp
	case MetricMinTemp:
		return w.MinTemp
	case MetricMaxTemp:
		return w.MaxTemp
	case MetricAvgHumidity:
		return w.AvgHumidity
	case MetricAvgWind:
		return w.AvgWind
	case MetricAvgPrecipitation:
		return w.AvgPrecipitation
	default:
		return math.NaN()
	}
}

// AlertRule fires when Metric compared with Threshold holds. Operator is
// ">" or "<".
type AlertRule struct {
	Code      string
	Severity  models.Severity
	Metric    Metric
	Operator  string
	Threshold float64
	Message   string
}

func (r AlertRule) matches(w models.AggregateWindow) bool {
	v := r.Metric.value(w)
	if math.IsNaN(v) {
		return false
	}
	switch r.Operator {
	case ">":
		return v > r.Threshold
	case "<":
		return v < r.Threshold
	default:
		return false
	}
}

func DefaultAlertRules() []AlertRule {
	return []AlertRule{
		{Code: "strong_wind", Severity: models.SeverityWarning, Metric: MetricAvgWind, Operator: ">", Threshold: 40, Message: "ventos fortes"},
		{Code: "high_humidity", Severity: models.SeverityInfo, Metric: MetricAvgHumidity, Operator: ">", Threshold: 85, Message: "umidade elevada"},
		{Code: "low_humidity", Severity: models.SeverityInfo, Metric: MetricAvgHumidity, Operator: "<", Threshold: 30, Message: "umidade baixa"},
		{Code: "extreme_heat", Severity: models.SeverityDanger, Metric: MetricMaxTemp, Operator: ">", Threshold: 35, Message: "calor extremo"},
		{Code: "frost_risk", Severity: models.SeverityDanger, Metric: MetricMinTemp, Operator: "<", Threshold: 0, Message: "risco de geada"},
		{Code: "rain_likely", Severity: models.SeverityInfo, Metric: MetricAvgPrecipitation, Operator: ">", Threshold: 70, Message: "alta probabilidade de chuva"},
	}
}

type Classifier struct {
	bands []Band
	rules []AlertRule
}

func NewClassifier(bands []Band, rules []AlertRule) (*Classifier, error) {
	if bands == nil {
		bands = DefaultBands()
	}
	if rules == nil {
		rules = DefaultAlertRules()
	}
	if err := ValidateBands(bands); err != nil {
		return nil, err
	}
	for _, r := range rules {
		if r.Operator != ">" && r.Operator != "<" {
			return nil, fmt.Errorf("alert %q: unsupported operator %q", r.Code, r.Operator)
		}
	}
	return &Classifier{bands: bands, rules: rules}, nil
}

// Classify returns the temperature band of the window and the alerts that
// fire, in rule order.
func (c *Classifier) Classify(w models.AggregateWindow) (string, []models.Alert) {
	alerts := []models.Alert{}
	if w.Empty() {
		return ClassificationUnavailable, alerts
	}

	for _, r := range c.rules {
		if r.matches(w) {
			alerts = append(alerts, models.Alert{Severity: r.Severity, Code: r.Code, Message: r.Message})
		}
	}
	return c.Band(w.AvgTemp), alerts
}

// Band returns the label of the band containing temp.
func (c *Classifier) Band(temp float64) string {
	for _, b := range c.bands {
		if b.contains(temp) {
			return b.Label
		}
	}
	return c.bands[len(c.bands)-1].Label
}

const (
	idealTempLow      = 20.0
	idealTempHigh     = 26.0
	idealHumidityLow  = 40.0
	idealHumidityHigh = 60.0
	calmWindKmh       = 20.0
)

// ComfortScore rates the window from 0 to 100. An empty window scores 0.
func ComfortScore(w models.AggregateWindow) int {
	if w.Empty() {
		return 0
	}

	score := 100.0
	score -= 4 * outside(w.AvgTemp, idealTempLow, idealTempHigh)
	score -= 1 * outside(w.AvgHumidity, idealHumidityLow, idealHumidityHigh)
	score -= 0.5 * math.Max(0, w.AvgWind-calmWindKmh)

	return int(math.Round(math.Min(100, math.Max(0, score))))
}

func outside(v, low, high float64) float64 {
	switch {
	case v < low:
		return low - v
	case v > high:
		return v - high
	default:
		return 0
	}
}
