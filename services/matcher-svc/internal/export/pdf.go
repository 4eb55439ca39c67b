package export

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/border"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Не больше строк назначения в PDF; полный список в XLSX
const maxPDFRows = 40

var (
	primaryColor   = &props.Color{Red: 52, Green: 152, Blue: 219}
	headerBgColor  = &props.Color{Red: 44, Green: 62, Blue: 80}
	dangerColor    = &props.Color{Red: 231, Green: 76, Blue: 60}
	lightGrayColor = &props.Color{Red: 236, Green: 240, Blue: 241}
	darkGrayColor  = &props.Color{Red: 127, Green: 140, Blue: 141}

	titleStyle = props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Center, Color: headerBgColor}
	h2Style    = props.Text{Size: 14, Style: fontstyle.Bold, Color: headerBgColor, Top: 4}
	smallStyle = props.Text{Size: 8, Color: darkGrayColor}

	metricValueStyle = props.Text{Size: 14, Style: fontstyle.Bold, Align: align.Center, Color: primaryColor}
	metricLabelStyle = props.Text{Size: 8, Align: align.Center, Color: darkGrayColor}

	tableHeaderStyle     = &props.Cell{BackgroundColor: primaryColor}
	tableHeaderTextStyle = props.Text{
		Size:  9,
		Style: fontstyle.Bold,
		Color: &props.Color{Red: 255, Green: 255, Blue: 255},
		Align: align.Center,
	}
	tableCellStyle     = &props.Cell{BorderType: border.Bottom, BorderColor: lightGrayColor}
	tableCellTextStyle = props.Text{Size: 9, Align: align.Center}
)

// PDFGenerator краткая сводка интервала в PDF
type PDFGenerator struct{}

func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

func (g *PDFGenerator) Format() string { return "pdf" }

// Generate генерирует PDF
func (g *PDFGenerator) Generate(_ context.Context, r *Report) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()

	m := maroto.New(cfg)

	g.addHeader(m, r)
	g.addSummary(m, r)
	g.addAssignment(m, r.AssignmentRows())
	g.addFooter(m)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return doc.GetBytes(), nil
}

func (g *PDFGenerator) addHeader(m core.Maroto, r *Report) {
	m.AddRow(14, text.NewCol(12, r.Title(), titleStyle))
	m.AddRow(4, line.NewCol(12))
	m.AddRow(6,
		text.NewCol(6, fmt.Sprintf("Run: %s", r.RunID), smallStyle),
		text.NewCol(6, fmt.Sprintf("Started: %s", r.StartedAt.Format("2006-01-02 15:04:05")),
			props.Text{Size: 8, Color: darkGrayColor, Align: align.Right}),
	)
	m.AddRow(6)
}

type metricCard struct {
	Label string
	Value string
}

func (g *PDFGenerator) addSummary(m core.Maroto, r *Report) {
	stats := r.Statistics()

	g.addSection(m, "Snapshot")
	g.addMetricCards(m, []metricCard{
		{"Drivers", fmt.Sprintf("%d", len(r.Snapshot.Drivers))},
		{"Passengers", fmt.Sprintf("%d", len(r.Snapshot.Passengers))},
		{"Matches", fmt.Sprintf("%d", r.Arena.Len())},
		{"Solver", r.Solver},
	})

	g.addSection(m, "Solution")
	g.addMetricCards(m, []metricCard{
		{"Profit", fmt.Sprintf("$%.2f", dollars(stats.Profit))},
		{"Target", fmt.Sprintf("$%.2f", r.Target/100)},
		{"Assigned", fmt.Sprintf("%d", stats.Matches)},
		{"Covered", fmt.Sprintf("%d", stats.PassengersCovered)},
		{"Occupancy", fmt.Sprintf("%.2f", stats.OccupancyRate)},
		{"Duration", formatDuration(r.Duration)},
	})

	if r.Violations > 0 || r.Suspect {
		warn := props.Text{Size: 10, Style: fontstyle.Bold, Color: dangerColor}
		m.AddRow(8, text.NewCol(12,
			fmt.Sprintf("Verification: %d violations, suspect=%t", r.Violations, r.Suspect), warn))
	}
}

func (g *PDFGenerator) addMetricCards(m core.Maroto, cards []metricCard) {
	size := max(12/len(cards), 2)

	label := metricLabelStyle
	label.Top = 7

	cols := make([]core.Col, 0, len(cards))
	for _, card := range cards {
		cols = append(cols, col.New(size).Add(
			text.New(card.Value, metricValueStyle),
			text.New(card.Label, label),
		))
	}
	m.AddRow(16, cols...)
}

func (g *PDFGenerator) addSection(m core.Maroto, title string) {
	m.AddRow(10, text.NewCol(12, title, h2Style))
	m.AddRow(2, line.NewCol(12, props.Line{Color: primaryColor}))
	m.AddRow(4)
}

func (g *PDFGenerator) addAssignment(m core.Maroto, rows []Row) {
	g.addSection(m, "Assignment")
	if len(rows) == 0 {
		m.AddRow(6, text.NewCol(12, "No driver assigned", smallStyle))
		return
	}

	m.AddRow(8,
		text.NewCol(2, "Driver", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(4, "Passengers", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Revenue", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Cost", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Profit", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
	)

	for i, row := range rows {
		if i == maxPDFRows {
			m.AddRow(6, text.NewCol(12, fmt.Sprintf("... and %d more rows", len(rows)-maxPDFRows), smallStyle))
			break
		}
		m.AddRow(6,
			text.NewCol(2, fmt.Sprintf("%d", row.DriverID), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(4, row.Passengers(), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, fmt.Sprintf("%.2f", row.Revenue), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, fmt.Sprintf("%.2f", row.Cost), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, fmt.Sprintf("%.2f", dollars(row.Profit)), tableCellTextStyle).WithStyle(tableCellStyle),
		)
	}
}

func (g *PDFGenerator) addFooter(m core.Maroto) {
	m.AddRow(10)
	m.AddRow(2, line.NewCol(12, props.Line{Color: lightGrayColor}))
	m.AddRow(6, text.NewCol(12,
		fmt.Sprintf("Generated by ridematch | %s", time.Now().Format("2006-01-02 15:04:05")),
		props.Text{Size: 8, Color: darkGrayColor, Align: align.Center},
	))
}
