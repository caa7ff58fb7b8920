package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

// ErrDuplicateSample is returned when a sample with the same location and
// observation time has already been stored. Ingestion treats it as success.
var ErrDuplicateSample = errors.New("duplicate sample")

type sampleKey struct {
	locationID  string
	collectedAt int64
}

// MemoryStore keeps samples per location ordered by CollectedAt.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]models.WeatherSample
	keys    map[sampleKey]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		samples: make(map[string][]models.WeatherSample),
		keys:    make(map[sampleKey]struct{}),
	}
}

func (s *MemoryStore) InsertSample(ctx context.Context, sample models.WeatherSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := sampleKey{locationID: sample.LocationID, collectedAt: sample.CollectedAt.UnixNano()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key]; exists {
		return ErrDuplicateSample
	}
	s.keys[key] = struct{}{}

	list := s.samples[sample.LocationID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].CollectedAt.After(sample.CollectedAt)
	})
	list = append(list, models.WeatherSample{})
	copy(list[idx+1:], list[idx:])
	list[idx] = sample
	s.samples[sample.LocationID] = list

	return nil
}

// SamplesInRange returns samples for the location with CollectedAt in
// [from, to], oldest first.
func (s *MemoryStore) SamplesInRange(ctx context.Context, locationID string, from, to time.Time) ([]models.WeatherSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := models.SampleFilter{LocationID: locationID, From: from, To: to}
	var result []models.WeatherSample
	for _, sample := range s.samples[locationID] {
		if filter.Matches(sample) {
			result = append(result, sample)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListSamples(ctx context.Context, filter models.SampleFilter, page models.PageRequest) ([]models.WeatherSample, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	var matched []models.WeatherSample
	for locationID, list := range s.samples {
		if filter.LocationID != "" && locationID != filter.LocationID {
			continue
		}
		for _, sample := range list {
			if filter.Matches(sample) {
				matched = append(matched, sample)
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CollectedAt.Equal(b.CollectedAt) {
			if page.Descending {
				return a.CollectedAt.After(b.CollectedAt)
			}
			return a.CollectedAt.Before(b.CollectedAt)
		}
		return a.LocationID < b.LocationID
	})

	total := len(matched)
	if page.Offset >= total {
		return []models.WeatherSample{}, total, nil
	}
	end := total
	if page.Limit > 0 && page.Offset+page.Limit < total {
		end = page.Offset + page.Limit
	}
	return matched[page.Offset:end], total, nil
}

// Count returns the number of stored samples across all locations.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
