package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bobby-s-dev/weather-insights/internal/models"
	"github.com/bobby-s-dev/weather-insights/internal/store"
)

var (
	errStoreDown = errors.New("store unavailable")
	t0           = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func floripa() models.Location {
	return models.Location{
		ID:              "florianopolis",
		Name:            "Florianópolis",
		Latitude:        -27.5954,
		Longitude:       -48.5480,
		IntervalMinutes: 30,
		Active:          true,
	}
}

func sample(at time.Time, temp, humidity, wind float64) models.WeatherSample {
	return models.WeatherSample{
		LocationID:    "florianopolis",
		City:          "Florianópolis",
		CollectedAt:   at,
		TemperatureC:  temp,
		FeelsLikeC:    temp,
		HumidityPct:   humidity,
		WindSpeedKmh:  wind,
		ConditionCode: models.ConditionClear,
	}
}

// flakyStore fails the first failures inserts, then delegates.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inserted []models.WeatherSample
	keys     map[string]bool
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, keys: make(map[string]bool)}
}

func (s *flakyStore) InsertSample(_ context.Context, sample models.WeatherSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failures {
		return errStoreDown
	}
	key := sample.LocationID + sample.CollectedAt.String()
	if s.keys[key] {
		return store.ErrDuplicateSample
	}
	s.keys[key] = true
	s.inserted = append(s.inserted, sample)
	return nil
}

func (s *flakyStore) Inserted() []models.WeatherSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WeatherSample(nil), s.inserted...)
}

func (s *flakyStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// failingReader always fails range reads.
type failingReader struct{}

func (failingReader) SamplesInRange(context.Context, string, time.Time, time.Time) ([]models.WeatherSample, error) {
	return nil, errStoreDown
}

// failAfterLister serves one page then fails.
type failAfterLister struct {
	inner SampleLister
	pages int
	calls int
}

func (l *failAfterLister) ListSamples(ctx context.Context, filter models.SampleFilter, page models.PageRequest) ([]models.WeatherSample, int, error) {
	l.calls++
	if l.calls > l.pages {
		return nil, 0, errStoreDown
	}
	return l.inner.ListSamples(ctx, filter, page)
}

type staticLocations map[string]models.Location

func (l staticLocations) Get(id string) (models.Location, bool) {
	loc, ok := l[id]
	return loc, ok
}
