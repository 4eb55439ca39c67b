package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
)

// GoogleMaps asks the Directions API for the driving distance of the first route.
type GoogleMaps struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleMaps creates the oracle. Extra client options are used by tests to
// point the client at a local server.
func NewGoogleMaps(apiKey string, timeout time.Duration, opts ...maps.ClientOption) (*GoogleMaps, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleMaps{client: client, timeout: timeout}, nil
}

func latLng(c domain.Coordinate) string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 6, 64)
}

func (g *GoogleMaps) Distance(ctx context.Context, from, to domain.Coordinate) (float64, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return 0, apperror.Wrap(err, apperror.CodeOracleFailure, "maps api error")
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, apperror.Newf(apperror.CodeOracleFailure, "no route from %s to %s", from, to)
	}

	var meters int
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
	}
	return float64(meters), nil
}
