// Package tables holds the hourly speed and surge tables and the tip table
// used by route feasibility and profit estimation.
package tables

import (
	"fmt"
	"math"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
)

// Tip distances are whole miles in [MinTipMiles, MaxTipMiles].
const (
	MinTipMiles = 1
	MaxTipMiles = 35
)

// Grid is indexed [hour][fromRegion][toRegion]. Hour 0 is StartHour.
type Grid [][][]float64

// TipEntry average tip in dollars for a trip of Miles rounded miles.
type TipEntry struct {
	Miles  int     `koanf:"miles"`
	Amount float64 `koanf:"amount"`
}

// Tables speed (m/s), surge factors and tips of one simulation day.
type Tables struct {
	StartHour int        `koanf:"start_hour"`
	Speed     Grid       `koanf:"speed"`
	Surge     Grid       `koanf:"surge"`
	TipList   []TipEntry `koanf:"tips"`

	tips map[int]float64
}

// Uniform builds tables with the same speed in every hour and region pair,
// a surge factor of 1 and no tips.
func Uniform(startHour, hours, regions int, speed float64) *Tables {
	t := &Tables{
		StartHour: startHour,
		Speed:     filled(hours, regions, speed),
		Surge:     filled(hours, regions, 1),
	}
	t.index()
	return t
}

// WithTips replaces the tip list.
func (t *Tables) WithTips(entries ...TipEntry) *Tables {
	t.TipList = entries
	t.index()
	return t
}

func filled(hours, regions int, v float64) Grid {
	g := make(Grid, hours)
	for h := range g {
		g[h] = make([][]float64, regions)
		for a := range g[h] {
			g[h][a] = make([]float64, regions)
			for b := range g[h][a] {
				g[h][a][b] = v
			}
		}
	}
	return g
}

// LoadFile reads tables from a YAML file.
func LoadFile(path string) (*Tables, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidTable, fmt.Sprintf("failed to read %s", path))
	}

	var t Tables
	if err := k.Unmarshal("", &t); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidTable, "failed to decode tables")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.index()
	return &t, nil
}

func (t *Tables) index() {
	t.tips = make(map[int]float64, len(t.TipList)+1)
	for _, e := range t.TipList {
		t.tips[e.Miles] = e.Amount
	}
	// поездки до одной мили без чаевых
	t.tips[MinTipMiles] = 0
}

// Validate checks shapes and values of both grids and the tip list.
func (t *Tables) Validate() error {
	if t.StartHour < 0 || t.StartHour > domain.LastHour {
		return apperror.NewWithField(apperror.CodeInvalidTable, "start hour out of range", "start_hour")
	}
	if len(t.Speed) == 0 {
		return apperror.NewWithField(apperror.CodeInvalidTable, "speed table is empty", "speed")
	}
	regions := len(t.Speed[0])
	if err := checkGrid("speed", t.Speed, regions, true); err != nil {
		return err
	}
	if len(t.Surge) == 0 {
		return apperror.NewWithField(apperror.CodeInvalidTable, "surge table is empty", "surge")
	}
	if err := checkGrid("surge", t.Surge, regions, false); err != nil {
		return err
	}
	for _, e := range t.TipList {
		if e.Miles < MinTipMiles || e.Miles > MaxTipMiles {
			return apperror.Newf(apperror.CodeInvalidTable, "tip distance %d outside [%d, %d]", e.Miles, MinTipMiles, MaxTipMiles).
				WithField("tips")
		}
		if e.Amount < 0 {
			return apperror.Newf(apperror.CodeInvalidTable, "negative tip for %d miles", e.Miles).WithField("tips")
		}
	}
	return nil
}

func checkGrid(name string, g Grid, regions int, positive bool) error {
	for h, byFrom := range g {
		if len(byFrom) != regions {
			return apperror.Newf(apperror.CodeInvalidTable, "%s[%d] has %d regions, want %d", name, h, len(byFrom), regions).
				WithField(name)
		}
		for a, row := range byFrom {
			if len(row) != regions {
				return apperror.Newf(apperror.CodeInvalidTable, "%s[%d][%d] has %d regions, want %d", name, h, a, len(row), regions).
					WithField(name)
			}
			for b, v := range row {
				if math.IsNaN(v) || v < 0 || (positive && v == 0) {
					return apperror.Newf(apperror.CodeInvalidTable, "%s[%d][%d][%d] = %v", name, h, a, b, v).
						WithField(name)
				}
			}
		}
	}
	return nil
}

// Hours number of hourly rows in the speed table.
func (t *Tables) Hours() int {
	return len(t.Speed)
}

// Regions number of regions.
func (t *Tables) Regions() int {
	if len(t.Speed) == 0 {
		return 0
	}
	return len(t.Speed[0])
}

// Bucket is the speed-table row for moment ts (seconds since midnight).
func (t *Tables) Bucket(ts int64) int {
	return domain.HourBucket(ts, t.StartHour, t.Hours())
}

// SpeedAt returns meters per second between two regions at hour bucket h.
func (t *Tables) SpeedAt(h, from, to int) float64 {
	return t.Speed[clamp(h, len(t.Speed))][from][to]
}

// SurgeAt returns the surge factor between two regions at hour bucket h.
func (t *Tables) SurgeAt(h, from, to int) float64 {
	return t.Surge[clamp(h, len(t.Surge))][from][to]
}

// Tip returns the average tip for a trip of the given rounded miles.
func (t *Tables) Tip(miles int) float64 {
	if t.tips == nil {
		t.index()
	}
	return t.tips[miles]
}

// TipMiles rounds a distance in meters to tip miles.
func TipMiles(meters float64) int {
	m := int(math.Round(domain.MetersToMiles(meters)))
	if m < 2 {
		return MinTipMiles
	}
	return min(m, MaxTipMiles)
}

func clamp(h, n int) int {
	if h < 0 {
		return 0
	}
	if h >= n {
		return n - 1
	}
	return h
}
