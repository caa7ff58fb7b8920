package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

func testClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
		Multiplier:     2,
		Threshold:      3,
		BreakerTimeout: time.Minute,
	}
}

func TestOpenMeteoFetchObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forecast", r.URL.Path)
		assert.Equal(t, "-27.5954", r.URL.Query().Get("latitude"))
		assert.Equal(t, "kmh", r.URL.Query().Get("wind_speed_unit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"latitude":-27.6,"longitude":-48.5,"current":{"time":"2024-05-01T10:00","interval":900,
			"temperature_2m":22.4,"apparent_temperature":21.9,"relative_humidity_2m":60,"wind_speed_10m":10.2,
			"precipitation_probability":15,"weather_code":2}}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, testClientConfig(), zap.NewNop())
	obs, err := c.FetchObservation(context.Background(), -27.5954, -48.5480)
	require.NoError(t, err)

	require.NotNil(t, obs.ObservedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), *obs.ObservedAt)
	assert.Equal(t, 22.4, *obs.TemperatureC)
	assert.Equal(t, 21.9, *obs.ApparentTemperatureC)
	assert.Equal(t, 60.0, *obs.HumidityPct)
	assert.Equal(t, 15.0, *obs.PrecipitationProbabilityPct)
	assert.Equal(t, models.ConditionPartlyCloudy, obs.Condition)
	assert.Equal(t, "open-meteo", obs.Source)
}

func TestOpenMeteoMissingFieldsStayNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current":{"temperature_2m":18.0}}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, testClientConfig(), zap.NewNop())
	obs, err := c.FetchObservation(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Nil(t, obs.ObservedAt)
	assert.Nil(t, obs.HumidityPct)
	assert.Nil(t, obs.WindSpeedKmh)
	assert.Equal(t, models.ConditionUnknown, obs.Condition)
}

func TestBaseClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"current":{"temperature_2m":18.0}}`))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, testClientConfig(), zap.NewNop())
	_, err := c.FetchObservation(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBaseClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, testClientConfig(), zap.NewNop())
	_, err := c.FetchObservation(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBaseClientOpensBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, testClientConfig(), zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := c.FetchObservation(context.Background(), 0, 0)
		require.Error(t, err)
	}

	_, err := c.FetchObservation(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestOpenMeteoRespectsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(srv.URL, testClientConfig(), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.FetchObservation(ctx, 0, 0)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpenWeatherFetchObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		w.Write([]byte(`{"weather":[{"id":501,"main":"Rain"}],"main":{"temp":19.5,"feels_like":19.1,"humidity":88},
			"wind":{"speed":5},"dt":1714557600,"name":"Florianópolis","cod":200}`))
	}))
	defer srv.Close()

	c := NewOpenWeatherClient(srv.URL, "secret", testClientConfig(), zap.NewNop())
	obs, err := c.FetchObservation(context.Background(), -27.59, -48.54)
	require.NoError(t, err)

	assert.Equal(t, 19.5, *obs.TemperatureC)
	assert.InDelta(t, 18.0, *obs.WindSpeedKmh, 1e-9)
	assert.Nil(t, obs.PrecipitationProbabilityPct)
	assert.Equal(t, models.ConditionRain, obs.Condition)
	assert.Equal(t, time.Unix(1714557600, 0).UTC(), *obs.ObservedAt)
}

func TestOpenWeatherRequiresKey(t *testing.T) {
	c := NewOpenWeatherClient("", "", testClientConfig(), zap.NewNop())
	_, err := c.FetchObservation(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestConditionMappings(t *testing.T) {
	assert.Equal(t, models.ConditionClear, conditionFromWMO(0))
	assert.Equal(t, models.ConditionFog, conditionFromWMO(48))
	assert.Equal(t, models.ConditionThunderstorm, conditionFromWMO(99))
	assert.Equal(t, models.ConditionUnknown, conditionFromWMO(42))

	assert.Equal(t, models.ConditionShowers, conditionFromOpenWeather(521))
	assert.Equal(t, models.ConditionCloudy, conditionFromOpenWeather(804))
	assert.Equal(t, models.ConditionUnknown, conditionFromOpenWeather(900))
}
