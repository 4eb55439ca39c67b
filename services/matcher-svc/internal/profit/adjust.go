package profit

import (
	"context"

	"ridematch/pkg/config"
	"ridematch/pkg/domain"
	"ridematch/pkg/logger"
)

// Типы операционных затрат
const (
	OperatingCostNone = iota
	// OperatingCost15k амортизация при 15 000 миль в год
	OperatingCost15k
	// OperatingCost20k амортизация при 20 000 миль в год
	OperatingCost20k
)

// Стоимость владения седаном, долларов за метр
const (
	SmallSedanCostPerMeter  = 0.1251 / domain.MetersPerMile
	MediumSedanCostPerMeter = 0.1437 / domain.MetersPerMile

	SmallSedanMaintenance  = 0.0887 / domain.MetersPerMile
	MediumSedanMaintenance = 0.1064 / domain.MetersPerMile

	SmallSedanDepreciation15  = 2528.0 / 15000.0 / domain.MetersPerMile
	MediumSedanDepreciation15 = 3703.0 / 15000.0 / domain.MetersPerMile
	SmallSedanDepreciation20  = (2528.0 + 1174.0) / 20000.0 / domain.MetersPerMile
	MediumSedanDepreciation20 = (3703.0 + 1306.0) / 20000.0 / domain.MetersPerMile
)

// погрешность сравнения стоимости метра с классом седана
const classEpsilon = 1e-7

// Adjuster stresses priced matches: it inflates costs, adds vehicle
// ownership costs and cuts revenue, then recomputes profits.
type Adjuster struct {
	cfg   config.CostsConfig
	model *Model
}

// NewAdjuster creates an adjuster drawing from the model's generator.
func NewAdjuster(cfg config.CostsConfig, model *Model) *Adjuster {
	return &Adjuster{cfg: cfg, model: model}
}

// Enabled reports whether any adjustment is configured.
func (a *Adjuster) Enabled() bool {
	return a.adjustsCost() || a.adjustsRevenue()
}

func (a *Adjuster) adjustsCost() bool {
	c := a.cfg
	return c.Multiplier > 1 || (c.ExtraCost > 0 && c.ExtraCostChance > 0) || c.OperatingCostType != OperatingCostNone
}

func (a *Adjuster) adjustsRevenue() bool {
	return a.cfg.RevenueReduction > 0 && a.cfg.RevenueReduction < 1
}

// Apply adjusts every priced match of drivers in driver order and returns
// the number of matches left with negative profit.
func (a *Adjuster) Apply(ctx context.Context, drivers []*domain.Driver) (int, error) {
	if a.adjustsCost() {
		if err := a.increaseCost(ctx, drivers); err != nil {
			return 0, err
		}
	}
	if a.adjustsRevenue() {
		for _, d := range drivers {
			for _, m := range d.Matches {
				m.Revenue *= a.cfg.RevenueReduction
			}
		}
	}

	negative := 0
	for _, d := range drivers {
		for _, m := range d.Matches {
			ProfitOnly(m)
			if m.Profit < 0 {
				negative++
			}
		}
	}
	return negative, nil
}

func (a *Adjuster) increaseCost(ctx context.Context, drivers []*domain.Driver) error {
	mult := a.cfg.Multiplier
	if mult <= 0 {
		mult = 1
	}
	rng := a.model.Rand()

	for _, d := range drivers {
		for _, m := range d.Matches {
			if rng.Float64() < a.cfg.ExtraCostChance {
				m.Cost = m.Cost*mult + a.cfg.ExtraCost
			} else {
				m.Cost *= mult
			}
		}
	}

	if a.cfg.OperatingCostType == OperatingCostNone {
		return nil
	}
	for _, d := range drivers {
		perMeter, ok := a.ownershipCost(d.CostPerMeter)
		if !ok {
			logger.Log.Warn("driver vehicle class unknown, ownership cost skipped",
				"driver", d.TripID, "cost_per_meter", d.CostPerMeter)
			continue
		}
		for _, m := range d.Matches {
			meters, err := a.model.TravelDistance(ctx, d, m)
			if err != nil {
				return err
			}
			m.Cost += meters * perMeter
		}
	}
	return nil
}

// ownershipCost returns maintenance plus depreciation per meter for the
// vehicle class matching costPerMeter.
func (a *Adjuster) ownershipCost(costPerMeter float64) (float64, bool) {
	at15k := a.cfg.OperatingCostType == OperatingCost15k
	switch {
	case costPerMeter+classEpsilon > MediumSedanCostPerMeter:
		if at15k {
			return MediumSedanMaintenance + MediumSedanDepreciation15, true
		}
		return MediumSedanMaintenance + MediumSedanDepreciation20, true
	case costPerMeter+classEpsilon > SmallSedanCostPerMeter:
		if at15k {
			return SmallSedanMaintenance + SmallSedanDepreciation15, true
		}
		return SmallSedanMaintenance + SmallSedanDepreciation20, true
	default:
		return 0, false
	}
}
