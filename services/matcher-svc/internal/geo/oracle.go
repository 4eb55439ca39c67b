// Package geo provides road-distance oracles and the per-interval distance
// matrix shared by all match-building workers.
package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"ridematch/pkg/apperror"
	"ridematch/pkg/cache"
	"ridematch/pkg/config"
	"ridematch/pkg/domain"
)

// Oracle returns the travel distance in meters between two coordinates.
type Oracle interface {
	Distance(ctx context.Context, from, to domain.Coordinate) (float64, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, from, to domain.Coordinate) (float64, error)

func (f OracleFunc) Distance(ctx context.Context, from, to domain.Coordinate) (float64, error) {
	return f(ctx, from, to)
}

const (
	MethodGreatCircle = "greatcircle"
	MethodManhattan   = "manhattan"
	MethodGoogle      = "google"
)

func point(c domain.Coordinate) orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// GreatCircle is the haversine distance on a spherical earth.
type GreatCircle struct{}

func (GreatCircle) Distance(_ context.Context, from, to domain.Coordinate) (float64, error) {
	return orbgeo.DistanceHaversine(point(from), point(to)), nil
}

// Manhattan walks along the parallel of the origin first and then along the
// meridian of the destination.
type Manhattan struct{}

func (Manhattan) Distance(_ context.Context, from, to domain.Coordinate) (float64, error) {
	corner := orb.Point{to.Lng, from.Lat}
	return orbgeo.DistanceHaversine(point(from), corner) +
		orbgeo.DistanceHaversine(corner, point(to)), nil
}

// OracleOption настраивает NewOracle
type OracleOption func(*oracleOptions)

type oracleOptions struct {
	limiter Waiter
}

// WithLimiter ограничивает обращения к внешнему API. Для встроенных
// формул квота не нужна и опция игнорируется.
func WithLimiter(l Waiter) OracleOption {
	return func(o *oracleOptions) { o.limiter = l }
}

// NewOracle builds the oracle selected by cfg. When c is not nil the result
// is wrapped in a Cached decorator keyed by the method name, so cache hits
// never spend the request quota.
func NewOracle(cfg config.OracleConfig, c cache.Cache, ttl time.Duration, opts ...OracleOption) (Oracle, error) {
	var options oracleOptions
	for _, opt := range opts {
		opt(&options)
	}

	var o Oracle
	switch cfg.Method {
	case MethodGreatCircle, "":
		o = GreatCircle{}
	case MethodManhattan:
		o = Manhattan{}
	case MethodGoogle:
		g, err := NewGoogleMaps(cfg.APIKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		o = g
		if options.limiter != nil {
			o = NewRateLimited(g, options.limiter, MethodGoogle)
		}
	default:
		return nil, apperror.NewWithField(apperror.CodeInvalidConfig,
			fmt.Sprintf("unknown distance method %q", cfg.Method), "oracle.method")
	}

	if c == nil {
		return o, nil
	}
	return NewCached(o, cache.NewDistanceCache(c, MethodOrDefault(cfg.Method), ttl)), nil
}

// MethodOrDefault names the method used when none is configured.
func MethodOrDefault(method string) string {
	if method == "" {
		return MethodGreatCircle
	}
	return method
}
