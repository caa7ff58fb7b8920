package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/metrics"
	"github.com/bobby-s-dev/weather-insights/internal/models"
)

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"

	// PartialMarker starts the trailing row of an export cut short by an
	// error.
	PartialMarker = "#PARTIAL"

	exportSheet = "Sheet1"
)

var exportHeader = []string{"date", "time", "city", "temperature", "feelsLike", "humidity", "windSpeed", "condition"}

var (
	// ErrUnsupportedFormat is returned for formats other than csv and xlsx.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidFilter     = errors.New("invalid filter")
)

// ValidateFilter rejects ranges whose end precedes their start.
func ValidateFilter(filter models.SampleFilter) error {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidFilter,
			filter.To.Format(time.RFC3339), filter.From.Format(time.RFC3339))
	}
	return nil
}

type SampleLister interface {
	ListSamples(ctx context.Context, filter models.SampleFilter, page models.PageRequest) ([]models.WeatherSample, int, error)
}

type ExportResult struct {
	Rows    int
	Partial bool
}

// Exporter streams stored samples page by page so memory stays bounded by
// the page size.
type Exporter struct {
	store    SampleLister
	pageSize int
	location *time.Location
	logger   *zap.Logger
	metrics  *metrics.Metrics

	newWriter func(format ExportFormat, w io.Writer) (rowWriter, error)
}

func NewExporter(store SampleLister, pageSize int, location *time.Location, logger *zap.Logger, m *metrics.Metrics) *Exporter {
	if pageSize < 1 {
		pageSize = 500
	}
	if location == nil {
		location = time.UTC
	}
	e := &Exporter{
		store:    store,
		pageSize: pageSize,
		location: location,
		logger:   logger,
		metrics:  m,
	}
	e.newWriter = e.newRowWriter
	return e
}

func (f ExportFormat) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func ParseExportFormat(value string) (ExportFormat, error) {
	switch ExportFormat(value) {
	case FormatCSV, FormatXLSX:
		return ExportFormat(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

type rowWriter interface {
	WriteRow(cells []interface{}) error
	Flush() error
	Close() error
	// Discard releases the writer without producing any more output.
	Discard()
}

// Stream writes the header and every matching sample, oldest first, to w.
// A store failure mid-stream appends a PartialMarker row, closes the file
// and returns the error.
func (e *Exporter) Stream(ctx context.Context, format ExportFormat, filter models.SampleFilter, w io.Writer) (ExportResult, error) {
	if err := ValidateFilter(filter); err != nil {
		return ExportResult{}, err
	}

	writer, err := e.newWriter(format, w)
	if err != nil {
		return ExportResult{}, err
	}

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := writer.WriteRow(header); err != nil {
		writer.Discard()
		return ExportResult{}, fmt.Errorf("write header: %w", err)
	}

	result := ExportResult{}
	offset := 0
	for {
		rows, total, err := e.store.ListSamples(ctx, filter, models.PageRequest{Offset: offset, Limit: e.pageSize})
		if err != nil {
			return e.abort(format, writer, result, err)
		}

		for _, sample := range rows {
			if err := writer.WriteRow(e.row(sample)); err != nil {
				writer.Discard()
				return result, fmt.Errorf("write row: %w", err)
			}
		}
		result.Rows += len(rows)
		offset += len(rows)
		e.metrics.ExportRows.WithLabelValues(string(format)).Add(float64(len(rows)))

		if err := writer.Flush(); err != nil {
			writer.Discard()
			return result, fmt.Errorf("flush export: %w", err)
		}

		if len(rows) < e.pageSize || offset >= total {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("finish export: %w", err)
	}

	e.logger.Info("Export completed",
		zap.String("format", string(format)),
		zap.String("location", filter.LocationID),
		zap.Int("rows", result.Rows))

	return result, nil
}

func (e *Exporter) abort(format ExportFormat, writer rowWriter, result ExportResult, cause error) (ExportResult, error) {
	result.Partial = true
	e.metrics.ExportFailures.WithLabelValues(string(format)).Inc()
	e.logger.Error("Export interrupted, writing partial marker",
		zap.String("format", string(format)),
		zap.Int("rows_written", result.Rows),
		zap.Error(cause))

	if err := writer.WriteRow([]interface{}{PartialMarker, cause.Error()}); err != nil {
		e.logger.Warn("Failed to write partial marker", zap.Error(err))
	}
	if err := writer.Close(); err != nil {
		e.logger.Warn("Failed to close partial export", zap.Error(err))
	}

	return result, fmt.Errorf("export interrupted after %d rows: %w", result.Rows, cause)
}

func (e *Exporter) row(s models.WeatherSample) []interface{} {
	local := s.CollectedAt.In(e.location)
	city := s.City
	if city == "" {
		city = s.LocationID
	}
	return []interface{}{
		local.Format("2006-01-02"),
		local.Format("15:04"),
		city,
		s.TemperatureC,
		s.FeelsLikeC,
		s.HumidityPct,
		s.WindSpeedKmh,
		string(s.ConditionCode),
	}
}

func (e *Exporter) newRowWriter(format ExportFormat, w io.Writer) (rowWriter, error) {
	switch format {
	case FormatCSV:
		return &csvRowWriter{w: csv.NewWriter(w)}, nil
	case FormatXLSX:
		return newXLSXRowWriter(w)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

type csvRowWriter struct {
	w *csv.Writer
}

func (c *csvRowWriter) WriteRow(cells []interface{}) error {
	record := make([]string, len(cells))
	for i, cell := range cells {
		switch v := cell.(type) {
		case string:
			record[i] = v
		case float64:
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			record[i] = fmt.Sprint(v)
		}
	}
	return c.w.Write(record)
}

func (c *csvRowWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

func (c *csvRowWriter) Close() error {
	return c.Flush()
}

func (c *csvRowWriter) Discard() {}

// xlsxRowWriter buffers rows in excelize's StreamWriter, which spills to a
// temporary file, and writes the workbook to out on Close.
type xlsxRowWriter struct {
	file   *excelize.File
	stream *excelize.StreamWriter
	out    io.Writer
	row    int
}

func newXLSXRowWriter(out io.Writer) (*xlsxRowWriter, error) {
	file := excelize.NewFile()
	stream, err := file.NewStreamWriter(exportSheet)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create xlsx stream: %w", err)
	}
	return &xlsxRowWriter{file: file, stream: stream, out: out}, nil
}

func (x *xlsxRowWriter) WriteRow(cells []interface{}) error {
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	return x.stream.SetRow(cell, cells)
}

func (x *xlsxRowWriter) Flush() error {
	return nil
}

func (x *xlsxRowWriter) Discard() {
	x.file.Close()
}

func (x *xlsxRowWriter) Close() error {
	defer x.file.Close()
	if err := x.stream.Flush(); err != nil {
		return err
	}
	_, err := x.file.WriteTo(x.out)
	return err
}
