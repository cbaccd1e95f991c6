// Package report exports query results as spreadsheets.
package report

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/benjaminclauss/truckping/tracker"
)

const SheetName = "vendors"

var header = []any{"truck_id", "distance_km", "last_seen_s", "tcp_port", "ip", "lat", "lon", "nearby"}

// WriteXLSX writes rows to a new workbook at path. The last row records when the result was taken.
func WriteXLSX(path string, rows []tracker.Row, at time.Time) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("error closing workbook", "err", err, "path", path)
		}
	}()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{r.ID, r.DistanceKm, int64(r.Age / time.Second), r.TCPPort, r.Addr, r.Lat, r.Lon, r.Nearby}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+3)
	if err != nil {
		return err
	}
	if err := sw.SetRow(cell, []any{"generated_at", at.UTC().Format(time.RFC3339)}); err != nil {
		return err
	}
	if err := sw.Flush(); err != nil {
		return err
	}

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
