// Package validation re-checks the results of an interval after the fact.
// Violations are collected and reported; nothing is repaired.
package validation

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
	"ridematch/pkg/telemetry"
	"ridematch/services/matcher-svc/internal/feasibility"
	"ridematch/services/matcher-svc/internal/flow"
)

// VerifyMatches walks every match again in its stored order and checks the
// time windows of the driver and each passenger, the pickup before drop-off
// order and downward closure of the driver's passenger sets.
func VerifyMatches(ctx context.Context, c *feasibility.Checker, drivers []*domain.Driver) (*apperror.ValidationErrors, error) {
	v := apperror.NewValidationErrors()

	for _, d := range drivers {
		known := make(map[string]struct{}, len(d.Matches))
		for _, m := range d.Matches {
			known[m.SFP.Key()] = struct{}{}
		}

		for _, m := range d.Matches {
			if !domain.ValidOrder(m.SFP.Stops) {
				v.Add(apperror.Newf(apperror.CodeInvariantViolation,
					"driver %d match %d: drop-off before pickup", d.Index, m.ID).
					WithDetails("driver", d.Index).WithDetails("match", m.ID))
				continue
			}

			_, ok, err := c.Check(ctx, d, m.Passengers(), m.SFP.Stops)
			if err != nil {
				return nil, err
			}
			if !ok {
				v.Add(apperror.Newf(apperror.CodeTimeWindowViolation,
					"driver %d match %d {%s}: time window violated", d.Index, m.ID, m.SFP.Key()).
					WithDetails("driver", d.Index).WithDetails("match", m.ID))
			}

			if m.Size() < 2 {
				continue
			}
			for _, p := range m.Passengers() {
				sub := domain.SetKey(lo.Without(m.Passengers(), p))
				if _, ok := known[sub]; !ok {
					v.Add(apperror.Newf(apperror.CodeClosureViolation,
						"driver %d match {%s}: subset {%s} missing", d.Index, m.SFP.Key(), sub).
						WithDetails("driver", d.Index).WithDetails("match", m.ID))
				}
			}
		}
	}
	return v, nil
}

// DuplicateMatches reports passenger sets that appear twice for one driver.
func DuplicateMatches(drivers []*domain.Driver) *apperror.ValidationErrors {
	v := apperror.NewValidationErrors()
	for _, d := range drivers {
		seen := make(map[string]int, len(d.Matches))
		for _, m := range d.Matches {
			key := m.SFP.Key()
			if first, ok := seen[key]; ok {
				v.Add(apperror.Newf(apperror.CodeDuplicateMatch,
					"driver %d: matches %d and %d share passengers {%s}", d.Index, first, m.ID, key).
					WithDetails("driver", d.Index))
				continue
			}
			seen[key] = m.ID
		}
	}
	return v
}

// VerifySolution checks that every assigned match exists, belongs to the
// driver it is assigned to and that no passenger rides in two matches.
func VerifySolution(arena *domain.MatchArena, as domain.Assignment) *apperror.ValidationErrors {
	v := apperror.NewValidationErrors()
	riders := make(map[int]int)

	drivers := lo.Keys(as)
	slices.Sort(drivers)
	for _, d := range drivers {
		h := as[d]
		m := arena.Get(h)
		if m == nil {
			v.Add(apperror.Newf(apperror.CodeNotFound, "driver %d: match %d not found", d, h).
				WithDetails("driver", d))
			continue
		}
		if m.Driver != d {
			v.Add(apperror.Newf(apperror.CodeDuplicateDriver,
				"match %d of driver %d assigned to driver %d", m.ID, m.Driver, d).
				WithDetails("driver", d).WithDetails("match", m.ID))
		}
		for _, p := range m.Passengers() {
			if other, ok := riders[p]; ok {
				v.Add(apperror.Newf(apperror.CodeDuplicatePassenger,
					"passenger %d assigned to drivers %d and %d", p, other, d).
					WithDetails("passenger", p))
				continue
			}
			riders[p] = d
		}
	}
	return v
}

// FlowConservation checks that flow into every driver and passenger vertex
// equals flow out of it and that the source sends what the sink receives.
func FlowConservation(g *flow.Graph) *apperror.ValidationErrors {
	v := apperror.NewValidationErrors()
	balance := make([]int, g.Vertices())
	for _, e := range g.Edges() {
		balance[e.From()] -= e.Flow()
		balance[e.To()] += e.Flow()
	}

	for u := flow.Sink + 1; u < g.Vertices(); u++ {
		if balance[u] == 0 {
			continue
		}
		v.Add(apperror.Newf(apperror.CodeFlowImbalance, "vertex %d: %s imbalance %d", u, vertexKind(g, u), balance[u]).
			WithDetails("vertex", u))
	}
	if out, in := -balance[flow.Source], balance[flow.Sink]; out != in {
		v.Add(apperror.Newf(apperror.CodeFlowImbalance, "source sends %d, sink receives %d", out, in))
	}
	return v
}

func vertexKind(g *flow.Graph, u int) string {
	if d, ok := g.Driver(u); ok {
		return fmt.Sprintf("driver %d", d)
	}
	if p, ok := g.Passenger(u); ok {
		return fmt.Sprintf("passenger %d", p)
	}
	return "unknown"
}

// Input of Run. Graph is set only when the flow solver produced the assignment.
type Input struct {
	Checker    *feasibility.Checker
	Drivers    []*domain.Driver
	Arena      *domain.MatchArena
	Assignment domain.Assignment
	Graph      *flow.Graph
}

type check struct {
	name string
	run  func() *apperror.ValidationErrors
}

// Run executes every check, each in its own span, and merges the reports.
func Run(ctx context.Context, in Input) (*apperror.ValidationErrors, error) {
	ctx, span := telemetry.StartSpan(ctx, "validation.Run")
	defer span.End()

	all := apperror.NewValidationErrors()

	mctx, end := telemetry.Phase(ctx, "VerifyMatches")
	matches, err := VerifyMatches(mctx, in.Checker, in.Drivers)
	end(err)
	if err != nil {
		return nil, err
	}
	all.Merge(matches)

	checks := []check{
		{"DuplicateMatches", func() *apperror.ValidationErrors { return DuplicateMatches(in.Drivers) }},
		{"VerifySolution", func() *apperror.ValidationErrors { return VerifySolution(in.Arena, in.Assignment) }},
	}
	if in.Graph != nil {
		checks = append(checks, check{"FlowConservation", func() *apperror.ValidationErrors { return FlowConservation(in.Graph) }})
	}

	for _, c := range checks {
		cctx, end := telemetry.Phase(ctx, c.name)
		res := c.run()
		telemetry.AddEvent(cctx, "check_completed", attribute.Int("errors", len(res.Errors)))
		end(res.Err())
		all.Merge(res)
	}

	telemetry.SetAttributes(ctx, telemetry.ValidationAttributes(len(all.Errors), all.IsValid())...)
	return all, nil
}
