package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

type staticSource []models.Location

func (s staticSource) List() []models.Location { return s }

type fakeRegenerator struct {
	mu      sync.Mutex
	failFor string
	calls   []string
	periods []time.Duration
}

func (f *fakeRegenerator) Regenerate(_ context.Context, locationID string, period time.Duration) (*models.InsightReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, locationID)
	f.periods = append(f.periods, period)
	if locationID == f.failFor {
		return nil, errors.New("generation failed")
	}
	return &models.InsightReport{LocationID: locationID}, nil
}

func TestRefreshAllSkipsInactiveAndContinuesOnError(t *testing.T) {
	inactive := location("manaus", 60)
	inactive.Active = false
	regen := &fakeRegenerator{failFor: "recife"}

	r, err := NewInsightRefresher("@every 1h", regen,
		staticSource{location("florianopolis", 60), location("recife", 60), inactive, location("curitiba", 30)},
		24*time.Hour, zap.NewNop())
	require.NoError(t, err)

	refreshed := r.RefreshAll(context.Background())

	assert.Equal(t, 2, refreshed)
	assert.Equal(t, []string{"florianopolis", "recife", "curitiba"}, regen.calls)
	for _, p := range regen.periods {
		assert.Equal(t, 24*time.Hour, p)
	}
}

func TestRefreshAllStopsOnCancelledContext(t *testing.T) {
	regen := &fakeRegenerator{}
	r, err := NewInsightRefresher("@hourly", regen, staticSource{location("florianopolis", 60)}, time.Hour, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, r.RefreshAll(ctx))
	assert.Empty(t, regen.calls)
}

func TestNewInsightRefresherRejectsBadSchedule(t *testing.T) {
	_, err := NewInsightRefresher("every hour please", &fakeRegenerator{}, staticSource{}, time.Hour, zap.NewNop())
	assert.Error(t, err)
}

func TestInsightRefresherStartStop(t *testing.T) {
	r, err := NewInsightRefresher("@every 1h", &fakeRegenerator{}, staticSource{}, time.Hour, zap.NewNop())
	require.NoError(t, err)

	r.Start()
	r.Stop()
}
