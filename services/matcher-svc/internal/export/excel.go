package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet    = "Summary"
	assignmentSheet = "Assignment"
	matchesSheet    = "Matches"
)

var rowHeaders = []any{"Driver", "Match", "Passengers", "Size", "Revenue", "Cost", "Profit"}

// ExcelGenerator книга XLSX: сводка, назначение и все совпадения
type ExcelGenerator struct{}

func NewExcelGenerator() *ExcelGenerator {
	return &ExcelGenerator{}
}

func (g *ExcelGenerator) Format() string { return "xlsx" }

// Generate генерирует XLSX
func (g *ExcelGenerator) Generate(_ context.Context, r *Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if err := g.writeSummary(f, r, header); err != nil {
		return nil, err
	}
	if err := g.writeRows(f, assignmentSheet, r.AssignmentRows(), header); err != nil {
		return nil, err
	}
	if err := g.writeRows(f, matchesSheet, r.MatchRows(), header); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *ExcelGenerator) writeSummary(f *excelize.File, r *Report, header int) error {
	stats := r.Statistics()

	if err := f.SetCellValue(summarySheet, "A1", r.Title()); err != nil {
		return err
	}
	if err := f.MergeCell(summarySheet, "A1", "B1"); err != nil {
		return err
	}
	if err := f.SetSheetRow(summarySheet, "A3", &[]any{"Metric", "Value"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A3", "B3", header); err != nil {
		return err
	}

	items := [][]any{
		{"Run", r.RunID},
		{"Solver", r.Solver},
		{"Started", r.StartedAt.Format("2006-01-02 15:04:05")},
		{"Duration", formatDuration(r.Duration)},
		{"Drivers", len(r.Snapshot.Drivers)},
		{"Passengers", len(r.Snapshot.Passengers)},
		{"Matches", r.Arena.Len()},
		{"Assigned drivers", stats.Matches},
		{"Passengers covered", stats.PassengersCovered},
		{"Largest match", stats.LargestMatch},
		{"Occupancy rate", stats.OccupancyRate},
		{"Vacancy rate", stats.VacancyRate},
		{"Profit ($)", dollars(stats.Profit)},
		{"Profit target ($)", r.Target / 100},
		{"Negative matches", stats.NegativeMatches},
		{"Violations", r.Violations},
		{"Suspect", r.Suspect},
	}
	for i, item := range items {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+4), &item); err != nil {
			return err
		}
	}

	return f.SetColWidth(summarySheet, "A", "B", 22)
}

func (g *ExcelGenerator) writeRows(f *excelize.File, sheet string, rows []Row, header int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &rowHeaders); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "G1", header); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			row.DriverID,
			row.MatchID,
			row.Passengers(),
			len(row.PassengerIDs),
			row.Revenue,
			row.Cost,
			dollars(row.Profit),
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}

	return f.SetColWidth(sheet, "A", "G", 14)
}
