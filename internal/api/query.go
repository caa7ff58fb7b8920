package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

const (
	maxPeriodDays = 30
	maxPeriod     = maxPeriodDays * 24 * time.Hour
	maxPage       = 1_000_000
)

var validate = validator.New()

// rangeQuery holds the city and date filters shared by logs and exports.
type rangeQuery struct {
	City      string `validate:"omitempty,max=100"`
	StartDate time.Time
	EndDate   time.Time
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	r.City = strings.TrimSpace(c.Query("city"))

	var err error
	if s := c.Query("startDate"); s != "" {
		if r.StartDate, err = parseTime(s, false); err != nil {
			return fmt.Errorf("startDate: %w", err)
		}
	}
	if s := c.Query("endDate"); s != "" {
		if r.EndDate, err = parseTime(s, true); err != nil {
			return fmt.Errorf("endDate: %w", err)
		}
	}
	if !r.StartDate.IsZero() && !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate) {
		return errors.New("endDate must not be before startDate")
	}

	return validate.Struct(r)
}

type logsQuery struct {
	rangeQuery
	Page  int `validate:"min=1"`
	Limit int `validate:"min=1,max=100"`
}

func (q *logsQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.Page, err = strconv.Atoi(c.Query("page", "1")); err != nil {
		return errors.New("page must be a number")
	}
	if q.Page > maxPage {
		return fmt.Errorf("page must not exceed %d", maxPage)
	}
	if q.Limit, err = strconv.Atoi(c.Query("limit", "10")); err != nil {
		return errors.New("limit must be a number")
	}
	if err := q.rangeQuery.bind(c); err != nil {
		return err
	}
	return validate.Struct(q)
}

type exportQuery struct {
	rangeQuery
}

// insightQuery reads city and period from the query string or, for POST, a
// JSON body.
type insightQuery struct {
	City      string        `json:"city" query:"city" validate:"omitempty,max=100"`
	RawPeriod string        `json:"period" query:"period"`
	Period    time.Duration `json:"-" query:"-"`
}

func (q *insightQuery) bind(c *fiber.Ctx, defaultPeriod time.Duration) error {
	if err := c.QueryParser(q); err != nil {
		return errors.New("invalid query parameters")
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(q); err != nil {
			return errors.New("invalid request body")
		}
	}
	q.City = strings.TrimSpace(q.City)

	period, err := parsePeriod(q.RawPeriod, defaultPeriod)
	if err != nil {
		return err
	}
	q.Period = period

	return validate.Struct(q)
}

type locationRequest struct {
	ID              string  `json:"id" validate:"omitempty,max=100"`
	Name            string  `json:"name" validate:"required,max=100"`
	Latitude        float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude       float64 `json:"longitude" validate:"gte=-180,lte=180"`
	IntervalMinutes int     `json:"interval_minutes" validate:"omitempty,min=1,max=1440"`
	Active          *bool   `json:"active"`
}

func (r locationRequest) toLocation(defaultInterval int) models.Location {
	loc := models.Location{
		ID:              r.ID,
		Name:            strings.TrimSpace(r.Name),
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		IntervalMinutes: r.IntervalMinutes,
		Active:          true,
	}
	if loc.IntervalMinutes == 0 {
		loc.IntervalMinutes = defaultInterval
	}
	if r.Active != nil {
		loc.Active = *r.Active
	}
	return loc
}

// parseTime accepts RFC3339, YYYY-MM-DD or unix seconds. A bare date used as
// an upper bound covers the whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if day, err := time.Parse(time.DateOnly, s); err == nil {
		if endOfDay {
			return day.Add(24*time.Hour - time.Nanosecond), nil
		}
		return day, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}

// parsePeriod accepts a Go duration ("12h") or a number of days ("7d").
func parsePeriod(s string, fallback time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}

	var period time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q", s)
		}
		if n < 1 || n > maxPeriodDays {
			return 0, fmt.Errorf("period must be between 1 and %d days", maxPeriodDays)
		}
		period = time.Duration(n) * 24 * time.Hour
	} else {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q; use a duration like 12h or days like 7d", s)
		}
		period = d
	}

	if period <= 0 || period > maxPeriod {
		return 0, fmt.Errorf("period must be between 1s and %d days", maxPeriodDays)
	}
	return period, nil
}
