package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
	"github.com/bobby-s-dev/weather-insights/internal/scheduler"
	"github.com/bobby-s-dev/weather-insights/internal/services"
)

const exportTimeout = 10 * time.Minute

type SampleQuerier interface {
	ListSamples(ctx context.Context, filter models.SampleFilter, page models.PageRequest) ([]models.WeatherSample, int, error)
}

type InsightService interface {
	Latest(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, error)
	Regenerate(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, error)
}

type ExportService interface {
	Stream(ctx context.Context, format services.ExportFormat, filter models.SampleFilter, w io.Writer) (services.ExportResult, error)
}

type LocationDirectory interface {
	Upsert(loc models.Location) (models.Location, error)
	Remove(id string) bool
	Get(id string) (models.Location, bool)
	Resolve(city string) (models.Location, bool)
	List() []models.Location
	FirstActive() (models.Location, bool)
}

type ScheduleController interface {
	Start(loc models.Location) error
	Stop(locationID string) bool
	Running(locationID string) bool
	CollectNow(ctx context.Context, loc models.Location) (models.WeatherSample, error)
	Status() []scheduler.JobStatus
}

type Handler struct {
	samples   SampleQuerier
	insights  InsightService
	exporter  ExportService
	locations LocationDirectory
	scheduler ScheduleController
	settings  Settings
	logger    *zap.Logger
	startTime time.Time
}

// Settings holds the request defaults taken from configuration.
type Settings struct {
	DefaultPeriod   time.Duration
	DefaultInterval int
	CollectTimeout  time.Duration
}

func NewHandler(
	samples SampleQuerier,
	insights InsightService,
	exporter ExportService,
	locations LocationDirectory,
	sched ScheduleController,
	settings Settings,
	logger *zap.Logger,
) *Handler {
	if settings.DefaultPeriod <= 0 {
		settings.DefaultPeriod = 24 * time.Hour
	}
	if settings.DefaultInterval <= 0 {
		settings.DefaultInterval = 60
	}
	if settings.CollectTimeout <= 0 {
		settings.CollectTimeout = 15 * time.Second
	}
	return &Handler{
		samples:   samples,
		insights:  insights,
		exporter:  exporter,
		locations: locations,
		scheduler: sched,
		settings:  settings,
		logger:    logger,
		startTime: time.Now(),
	}
}

// GetLogs handles GET /api/v1/weather/logs
func (h *Handler) GetLogs(c *fiber.Ctx) error {
	var q logsQuery
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	filter := h.filterFor(q.City, q.StartDate, q.EndDate)
	samples, total, err := h.samples.ListSamples(c.UserContext(), filter, models.PageRequest{
		Offset:     (q.Page - 1) * q.Limit,
		Limit:      q.Limit,
		Descending: true,
	})
	if err != nil {
		h.logger.Error("Failed to list samples",
			zap.String("city", q.City),
			zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather logs")
	}
	if samples == nil {
		samples = []models.WeatherSample{}
	}

	return c.JSON(models.PaginatedSamples{
		Data:       samples,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	})
}

// GetInsights handles GET /api/v1/weather/insights
func (h *Handler) GetInsights(c *fiber.Ctx) error {
	var q insightQuery
	if err := q.bind(c, h.settings.DefaultPeriod); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	loc, err := h.resolveLocation(q.City)
	if err != nil {
		return err
	}

	report, err := h.insights.Latest(c.UserContext(), loc.ID, q.Period)
	if err != nil {
		return h.insightError(loc.ID, err)
	}
	return c.JSON(report)
}

// GenerateInsights handles POST /api/v1/weather/insights/generate
func (h *Handler) GenerateInsights(c *fiber.Ctx) error {
	var q insightQuery
	if err := q.bind(c, h.settings.DefaultPeriod); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	loc, err := h.resolveLocation(q.City)
	if err != nil {
		return err
	}

	h.logger.Info("Regenerating insight",
		zap.String("location", loc.ID),
		zap.Duration("period", q.Period))

	report, err := h.insights.Regenerate(c.UserContext(), loc.ID, q.Period)
	if err != nil {
		return h.insightError(loc.ID, err)
	}
	return c.JSON(report)
}

// Export handles GET /api/v1/weather/export/:format (csv or xlsx)
func (h *Handler) Export(c *fiber.Ctx) error {
	format, err := services.ParseExportFormat(c.Params("format"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var q exportQuery
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	filter := h.filterFor(q.City, q.StartDate, q.EndDate)
	if err := services.ValidateFilter(filter); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	filename := fmt.Sprintf("weather-logs-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))

	// The body is produced after the handler returns, so the stream gets its
	// own context rather than the request's.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()

		result, err := h.exporter.Stream(ctx, format, filter, w)
		if err != nil {
			h.logger.Error("Export failed",
				zap.String("format", string(format)),
				zap.Int("rows", result.Rows),
				zap.Bool("partial", result.Partial),
				zap.Error(err))
		}
		if err := w.Flush(); err != nil {
			h.logger.Warn("Export client disconnected", zap.Error(err))
		}
	})

	return nil
}

// GetLocations handles GET /api/v1/locations
func (h *Handler) GetLocations(c *fiber.Ctx) error {
	type locationView struct {
		models.Location
		Scheduled bool `json:"scheduled"`
	}

	list := h.locations.List()
	views := make([]locationView, 0, len(list))
	for _, loc := range list {
		views = append(views, locationView{Location: loc, Scheduled: h.scheduler.Running(loc.ID)})
	}

	return c.JSON(fiber.Map{
		"locations": views,
	})
}

// UpsertLocation handles POST /api/v1/locations. Active locations are
// (re)scheduled with the new settings; inactive ones are stopped.
func (h *Handler) UpsertLocation(c *fiber.Ctx) error {
	var req locationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	loc, err := h.locations.Upsert(req.toLocation(h.settings.DefaultInterval))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if loc.Active {
		if err := h.scheduler.Start(loc); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	} else {
		h.scheduler.Stop(loc.ID)
	}

	h.logger.Info("Location saved",
		zap.String("location", loc.ID),
		zap.Int("interval_minutes", loc.IntervalMinutes),
		zap.Bool("active", loc.Active))

	return c.Status(fiber.StatusCreated).JSON(loc)
}

// DeleteLocation handles DELETE /api/v1/locations/:id
func (h *Handler) DeleteLocation(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.locations.Remove(id) {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("location %q not found", id))
	}
	h.scheduler.Stop(id)

	return c.SendStatus(fiber.StatusNoContent)
}

// CollectLocation handles POST /api/v1/locations/:id/collect
func (h *Handler) CollectLocation(c *fiber.Ctx) error {
	loc, ok := h.locations.Get(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("location %q not found", c.Params("id")))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.settings.CollectTimeout)
	defer cancel()

	sample, err := h.scheduler.CollectNow(ctx, loc)
	if err != nil {
		if errors.Is(err, services.ErrQueueClosed) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "ingestion is shutting down")
		}
		return fiber.NewError(fiber.StatusBadGateway, "weather provider unavailable")
	}

	return c.Status(fiber.StatusAccepted).JSON(sample)
}

// GetSchedulerStatus handles GET /api/v1/scheduler/status
func (h *Handler) GetSchedulerStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"jobs": h.scheduler.Status(),
	})
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(c *fiber.Ctx) error {
	health := fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
		"locations": len(h.locations.List()),
		"scheduled": len(h.scheduler.Status()),
	}
	// Only the in-memory store can count cheaply.
	if counter, ok := h.samples.(interface{ Count() int }); ok {
		health["samples"] = counter.Count()
	}
	return c.JSON(health)
}

// resolveLocation maps a city query to a tracked location; an empty city
// selects the first active one.
func (h *Handler) resolveLocation(city string) (models.Location, error) {
	if city == "" {
		loc, ok := h.locations.FirstActive()
		if !ok {
			return models.Location{}, fiber.NewError(fiber.StatusNotFound, "no active locations configured")
		}
		return loc, nil
	}

	loc, ok := h.locations.Resolve(city)
	if !ok {
		return models.Location{}, fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("city %q is not tracked", city))
	}
	return loc, nil
}

func (h *Handler) filterFor(city string, from, to time.Time) models.SampleFilter {
	filter := models.SampleFilter{From: from, To: to}
	if city != "" {
		if loc, ok := h.locations.Resolve(city); ok {
			filter.LocationID = loc.ID
		} else {
			filter.LocationID = services.Slugify(city)
		}
	}
	return filter
}

func (h *Handler) insightError(locationID string, err error) error {
	if errors.Is(err, services.ErrUnknownLocation) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	h.logger.Error("Failed to build insight",
		zap.String("location", locationID),
		zap.Error(err))
	return fiber.NewError(fiber.StatusInternalServerError, "failed to build insight report")
}
