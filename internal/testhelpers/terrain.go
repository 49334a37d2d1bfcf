package testhelpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// TerrainHeader is the header row of the terrain spreadsheet.
var TerrainHeader = []any{"Latitude", "Longitude", "Drainage", "Elevation", "Water Table", "Urbanization", "Runoff Coefficient"}

// TerrainRow is one spreadsheet row. Values are written as-is so tests can
// place strings in numeric columns.
type TerrainRow []any

// FixtureRow is the row used for Mumbai in tests: drainage 25, elevation 5,
// high water table, good urbanization, runoff 0.6.
var FixtureRow = TerrainRow{19.0712, 72.8744, 25, 5, "High", "Good", 0.6}

// BuildTerrainWorkbook returns an .xlsx file whose first sheet holds header followed by rows.
func BuildTerrainWorkbook(t testing.TB, header []any, rows ...TerrainRow) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		values := []any(row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			t.Fatalf("write row %d: %v", i, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// WriteTerrainFile writes a terrain workbook into dir and returns its path.
func WriteTerrainFile(t testing.TB, dir string, rows ...TerrainRow) string {
	t.Helper()
	path := filepath.Join(dir, "terrain.xlsx")
	if err := os.WriteFile(path, BuildTerrainWorkbook(t, TerrainHeader, rows...), 0644); err != nil {
		t.Fatalf("write terrain file: %v", err)
	}
	return path
}
