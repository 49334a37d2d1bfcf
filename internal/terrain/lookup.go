// Package terrain finds static terrain attributes for a coordinate pair in the
// terrain spreadsheet.
package terrain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
	"github.com/kjstillabower/waterlogging-dashboard/internal/observability"
)

var (
	// ErrNoMatch means no row matches the rounded coordinates. This is a normal outcome.
	ErrNoMatch = errors.New("no terrain record for location")
	// ErrSourceUnavailable means the spreadsheet could not be loaded or parsed.
	ErrSourceUnavailable = errors.New("terrain source unavailable")
	// ErrMalformedRecord means the matching row has missing or unparsable fields.
	ErrMalformedRecord = errors.New("malformed terrain record")
)

// Column headers, compared after trimming and lowercasing.
const (
	colLatitude          = "latitude"
	colLongitude         = "longitude"
	colDrainage          = "drainage"
	colElevation         = "elevation"
	colWaterTable        = "water table"
	colUrbanization      = "urbanization"
	colRunoffCoefficient = "runoff coefficient"
)

// Lookup resolves terrain records from a Source.
type Lookup struct {
	source Source
	logger *zap.Logger
}

func NewLookup(source Source, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{source: source, logger: logger}
}

// Find loads the spreadsheet and returns the first row whose latitude and longitude,
// rounded to two decimals, equal the rounded query coordinates.
func (l *Lookup) Find(ctx context.Context, c models.Coordinates) (models.TerrainRecord, error) {
	rec, err := l.find(ctx, c)
	observability.TerrainLookupsTotal.WithLabelValues(outcome(err)).Inc()
	return rec, err
}

func (l *Lookup) find(ctx context.Context, c models.Coordinates) (models.TerrainRecord, error) {
	raw, err := l.source.Load(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.TerrainRecord{}, ctxErr
		}
		return models.TerrainRecord{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	rows, err := firstSheetRows(raw)
	if err != nil {
		return models.TerrainRecord{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if len(rows) == 0 {
		return models.TerrainRecord{}, fmt.Errorf("%w: empty sheet", ErrSourceUnavailable)
	}
	cols := headerIndex(rows[0])
	latCol, okLat := cols[colLatitude]
	lonCol, okLon := cols[colLongitude]
	if !okLat || !okLon {
		return models.TerrainRecord{}, fmt.Errorf("%w: latitude/longitude columns missing", ErrSourceUnavailable)
	}

	wantLat, wantLon := round2(c.Latitude), round2(c.Longitude)
	for i, row := range rows[1:] {
		lat, errLat := parseCell(row, latCol)
		lon, errLon := parseCell(row, lonCol)
		if errLat != nil || errLon != nil {
			l.logger.Debug("skipping terrain row with unparsable coordinates", zap.Int("row", i+2))
			continue
		}
		if round2(lat) == wantLat && round2(lon) == wantLon {
			rec, err := toRecord(row, cols)
			if err != nil {
				return models.TerrainRecord{}, fmt.Errorf("%w: row %d: %v", ErrMalformedRecord, i+2, err)
			}
			return rec, nil
		}
	}
	return models.TerrainRecord{}, ErrNoMatch
}

func firstSheetRows(raw []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	// Raw values, so a number format on a coordinate cell cannot truncate it.
	return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.Join(strings.Fields(h), " "))
		if _, dup := cols[name]; !dup && name != "" {
			cols[name] = i
		}
	}
	return cols
}

func toRecord(row []string, cols map[string]int) (models.TerrainRecord, error) {
	var rec models.TerrainRecord
	var err error
	if rec.Drainage, err = parseColumn(row, cols, colDrainage); err != nil {
		return rec, err
	}
	if rec.Elevation, err = parseColumn(row, cols, colElevation); err != nil {
		return rec, err
	}
	if rec.RunoffCoefficient, err = parseColumn(row, cols, colRunoffCoefficient); err != nil {
		return rec, err
	}
	if rec.WaterTable, err = textColumn(row, cols, colWaterTable); err != nil {
		return rec, err
	}
	if rec.Urbanization, err = textColumn(row, cols, colUrbanization); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseColumn(row []string, cols map[string]int, name string) (float64, error) {
	idx, ok := cols[name]
	if !ok {
		return 0, fmt.Errorf("column %q missing", name)
	}
	v, err := parseCell(row, idx)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", name, err)
	}
	return v, nil
}

func textColumn(row []string, cols map[string]int, name string) (string, error) {
	idx, ok := cols[name]
	if !ok {
		return "", fmt.Errorf("column %q missing", name)
	}
	if idx >= len(row) || strings.TrimSpace(row[idx]) == "" {
		return "", fmt.Errorf("column %q empty", name)
	}
	return strings.TrimSpace(row[idx]), nil
}

func parseCell(row []string, idx int) (float64, error) {
	if idx >= len(row) {
		return 0, errors.New("empty cell")
	}
	s := strings.TrimSpace(row[idx])
	if s == "" {
		return 0, errors.New("empty cell")
	}
	return strconv.ParseFloat(s, 64)
}

var (
	hundred = big.NewRat(100, 1)
	half    = big.NewRat(1, 2)
)

// round2 rounds to two decimals the way JavaScript's toFixed(2) does: the
// exact binary value decides, and an exact half rounds away from zero.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scaled := new(big.Rat).SetFloat64(math.Abs(v))
	scaled.Mul(scaled, hundred)

	n := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	frac := new(big.Rat).Sub(scaled, new(big.Rat).SetInt(n))
	if frac.Cmp(half) >= 0 {
		n.Add(n, big.NewInt(1))
	}
	r, _ := new(big.Rat).SetFrac(n, big.NewInt(100)).Float64()
	if v < 0 && r != 0 {
		r = -r
	}
	return r
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "match"
	case errors.Is(err, ErrNoMatch):
		return "no_match"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unavailable"
	}
}
