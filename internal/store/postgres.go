package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS weather_samples (
	id                            TEXT PRIMARY KEY,
	location_id                   TEXT NOT NULL,
	city                          TEXT NOT NULL,
	collected_at                  TIMESTAMPTZ NOT NULL,
	temperature_c                 DOUBLE PRECISION NOT NULL,
	feels_like_c                  DOUBLE PRECISION NOT NULL,
	humidity_pct                  DOUBLE PRECISION NOT NULL,
	wind_speed_kmh                DOUBLE PRECISION NOT NULL,
	precipitation_probability_pct DOUBLE PRECISION NOT NULL,
	condition_code                TEXT NOT NULL,
	source                        TEXT NOT NULL,
	UNIQUE (location_id, collected_at)
);
CREATE INDEX IF NOT EXISTS idx_weather_samples_collected_at ON weather_samples (collected_at);
`

const sampleColumns = `id, location_id, city, collected_at, temperature_c, feels_like_c,
	humidity_pct, wind_speed_kmh, precipitation_probability_pct, condition_code, source`

// PostgresStore persists samples in PostgreSQL. The unique constraint on
// (location_id, collected_at) makes inserts idempotent.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the samples table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSample(ctx context.Context, sample models.WeatherSample) error {
	query := `
		INSERT INTO weather_samples (` + sampleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (location_id, collected_at) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		sample.ID,
		sample.LocationID,
		sample.City,
		sample.CollectedAt.UTC(),
		sample.TemperatureC,
		sample.FeelsLikeC,
		sample.HumidityPct,
		sample.WindSpeedKmh,
		sample.PrecipitationProbabilityPct,
		string(sample.ConditionCode),
		sample.Source,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateSample
	}
	return nil
}

func (s *PostgresStore) SamplesInRange(ctx context.Context, locationID string, from, to time.Time) ([]models.WeatherSample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM weather_samples
		WHERE location_id = $1 AND collected_at BETWEEN $2 AND $3
		ORDER BY collected_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, locationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

func (s *PostgresStore) ListSamples(ctx context.Context, filter models.SampleFilter, page models.PageRequest) ([]models.WeatherSample, int, error) {
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}
	where, args := buildWhere(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM weather_samples" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count samples: %w", err)
	}

	order := "ASC"
	if page.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf("SELECT %s FROM weather_samples%s ORDER BY collected_at %s, location_id ASC LIMIT $%d OFFSET $%d",
		sampleColumns, where, order, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil {
		return nil, 0, err
	}
	return samples, total, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func buildWhere(filter models.SampleFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		clauses = append(clauses, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		clauses = append(clauses, fmt.Sprintf("collected_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		clauses = append(clauses, fmt.Sprintf("collected_at <= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanSamples(rows *sql.Rows) ([]models.WeatherSample, error) {
	samples := make([]models.WeatherSample, 0)
	for rows.Next() {
		var sample models.WeatherSample
		var condition string
		if err := rows.Scan(
			&sample.ID,
			&sample.LocationID,
			&sample.City,
			&sample.CollectedAt,
			&sample.TemperatureC,
			&sample.FeelsLikeC,
			&sample.HumidityPct,
			&sample.WindSpeedKmh,
			&sample.PrecipitationProbabilityPct,
			&condition,
			&sample.Source,
		); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.ConditionCode = models.ConditionCode(condition)
		sample.CollectedAt = sample.CollectedAt.UTC()
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
