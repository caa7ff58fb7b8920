package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

const (
	DefaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5"
	openWeatherSource     = "openweathermap"
)

type OpenWeatherClient struct {
	*BaseClient
	apiKey  string
	baseURL string
}

type OpenWeatherCurrentResponse struct {
	Weather []struct {
		ID   int    `json:"id"`
		Main string `json:"main"`
	} `json:"weather"`
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Dt   int64  `json:"dt"`
	Name string `json:"name"`
	Cod  int    `json:"cod"`
}

func NewOpenWeatherClient(baseURL, apiKey string, config ClientConfig, logger *zap.Logger) *OpenWeatherClient {
	if baseURL == "" {
		baseURL = DefaultOpenWeatherURL
	}
	return &OpenWeatherClient{
		BaseClient: NewBaseClient(openWeatherSource, config, logger),
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *OpenWeatherClient) FetchObservation(ctx context.Context, lat, lon float64) (*RawObservation, error) {
	if c.apiKey == "" {
		return nil, errors.New("openweathermap api key is not configured")
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	params.Set("units", "metric")
	params.Set("appid", c.apiKey)

	var response OpenWeatherCurrentResponse
	if err := c.GetJSON(ctx, c.baseURL+"/weather?"+params.Encode(), &response); err != nil {
		return nil, fmt.Errorf("failed to fetch current weather: %w", err)
	}

	if response.Cod != 0 && response.Cod != 200 {
		return nil, fmt.Errorf("API error: %d", response.Cod)
	}

	obs := &RawObservation{
		TemperatureC:         response.Main.Temp,
		ApparentTemperatureC: response.Main.FeelsLike,
		HumidityPct:          response.Main.Humidity,
		Condition:            models.ConditionUnknown,
		Source:               openWeatherSource,
	}

	// Metric units report wind in m/s.
	if response.Wind.Speed != nil {
		obs.WindSpeedKmh = float64Ptr(*response.Wind.Speed * 3.6)
	}
	if len(response.Weather) > 0 {
		obs.Condition = conditionFromOpenWeather(response.Weather[0].ID)
	}
	if response.Dt > 0 {
		observedAt := time.Unix(response.Dt, 0).UTC()
		obs.ObservedAt = &observedAt
	}

	return obs, nil
}

// conditionFromOpenWeather maps OpenWeatherMap condition ids.
func conditionFromOpenWeather(id int) models.ConditionCode {
	switch {
	case id >= 200 && id < 300:
		return models.ConditionThunderstorm
	case id >= 300 && id < 400:
		return models.ConditionDrizzle
	case id >= 520 && id < 600:
		return models.ConditionShowers
	case id >= 500 && id < 520:
		return models.ConditionRain
	case id >= 600 && id < 700:
		return models.ConditionSnow
	case id >= 700 && id < 800:
		return models.ConditionFog
	case id == 800:
		return models.ConditionClear
	case id == 801 || id == 802:
		return models.ConditionPartlyCloudy
	case id == 803 || id == 804:
		return models.ConditionCloudy
	default:
		return models.ConditionUnknown
	}
}
