package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

const (
	DefaultOpenMeteoURL = "https://api.open-meteo.com/v1"
	openMeteoSource     = "open-meteo"
	openMeteoTimeLayout = "2006-01-02T15:04"
)

type OpenMeteoClient struct {
	*BaseClient
	baseURL string
}

type OpenMeteoCurrentResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Current   struct {
		Time                     string   `json:"time"`
		Interval                 int      `json:"interval"`
		Temperature2M            *float64 `json:"temperature_2m"`
		ApparentTemperature      *float64 `json:"apparent_temperature"`
		RelativeHumidity2M       *float64 `json:"relative_humidity_2m"`
		WindSpeed10M             *float64 `json:"wind_speed_10m"`
		PrecipitationProbability *float64 `json:"precipitation_probability"`
		WeatherCode              *int     `json:"weather_code"`
	} `json:"current"`
}

func NewOpenMeteoClient(baseURL string, config ClientConfig, logger *zap.Logger) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &OpenMeteoClient{
		BaseClient: NewBaseClient(openMeteoSource, config, logger),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *OpenMeteoClient) buildURL(lat, lon float64) string {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	params.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,precipitation_probability,weather_code")
	params.Set("wind_speed_unit", "kmh")
	params.Set("timezone", "GMT")
	return c.baseURL + "/forecast?" + params.Encode()
}

func (c *OpenMeteoClient) FetchObservation(ctx context.Context, lat, lon float64) (*RawObservation, error) {
	var response OpenMeteoCurrentResponse
	if err := c.GetJSON(ctx, c.buildURL(lat, lon), &response); err != nil {
		return nil, fmt.Errorf("failed to fetch current weather: %w", err)
	}

	obs := &RawObservation{
		TemperatureC:                response.Current.Temperature2M,
		ApparentTemperatureC:        response.Current.ApparentTemperature,
		HumidityPct:                 response.Current.RelativeHumidity2M,
		WindSpeedKmh:                response.Current.WindSpeed10M,
		PrecipitationProbabilityPct: response.Current.PrecipitationProbability,
		Condition:                   models.ConditionUnknown,
		Source:                      openMeteoSource,
	}

	if response.Current.WeatherCode != nil {
		obs.Condition = conditionFromWMO(*response.Current.WeatherCode)
	}

	if observedAt, ok := parseOpenMeteoTime(response.Current.Time); ok {
		obs.ObservedAt = &observedAt
	} else if response.Current.Time != "" {
		c.logger.Debug("Unparseable observation time",
			zap.String("client", c.name),
			zap.String("time", response.Current.Time))
	}

	return obs, nil
}

func parseOpenMeteoTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(openMeteoTimeLayout, value, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// conditionFromWMO maps WMO weather interpretation codes.
func conditionFromWMO(code int) models.ConditionCode {
	switch {
	case code == 0:
		return models.ConditionClear
	case code == 1 || code == 2:
		return models.ConditionPartlyCloudy
	case code == 3:
		return models.ConditionCloudy
	case code == 45 || code == 48:
		return models.ConditionFog
	case code >= 51 && code <= 57:
		return models.ConditionDrizzle
	case code >= 61 && code <= 67:
		return models.ConditionRain
	case code >= 71 && code <= 77:
		return models.ConditionSnow
	case code >= 80 && code <= 86:
		return models.ConditionShowers
	case code >= 95 && code <= 99:
		return models.ConditionThunderstorm
	default:
		return models.ConditionUnknown
	}
}
