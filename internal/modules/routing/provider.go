// README: RoutingProvider — the external collaborator for distance/duration
// queries, plus a haversine fallback used when the provider is unset or errors.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	gmaps "googlemaps.github.io/maps"

	"ark/internal/apperr"
	"ark/internal/geo"
)

// LegEstimate is one origin->destination leg's duration-in-traffic and distance.
type LegEstimate struct {
	DurationSeconds int
	DistanceMeters  int
}

// RouteEstimate is a full (possibly multi-stop) route's total duration,
// distance, and an opaque polyline.
type RouteEstimate struct {
	DurationSeconds int
	DistanceMeters  int
	Polyline        string
}

// RoutingProvider queries duration-in-traffic and distance between points.
// Polyline is opaque bytes the core never decodes.
type RoutingProvider interface {
	GetDistanceMatrix(ctx context.Context, origins, destinations []geo.Location, departAt time.Time) ([][]LegEstimate, error)
	GetDirections(ctx context.Context, origin, destination geo.Location, waypoints []geo.Location, departAt time.Time) (RouteEstimate, error)
}

// googleMapsProvider queries the Google Maps Directions and Distance Matrix
// APIs with traffic-aware departure times.
type googleMapsProvider struct {
	client *gmaps.Client
}

// NewGoogleMapsProvider builds a RoutingProvider backed by the Google Maps
// APIs. Returns an error if the client cannot be constructed from apiKey.
func NewGoogleMapsProvider(apiKey string) (RoutingProvider, error) {
	client, err := gmaps.NewClient(gmaps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &googleMapsProvider{client: client}, nil
}

func locString(l geo.Location) string {
	return l.String()
}

func (p *googleMapsProvider) GetDistanceMatrix(ctx context.Context, origins, destinations []geo.Location, departAt time.Time) ([][]LegEstimate, error) {
	originStrs := make([]string, len(origins))
	for i, o := range origins {
		originStrs[i] = locString(o)
	}
	destStrs := make([]string, len(destinations))
	for i, d := range destinations {
		destStrs[i] = locString(d)
	}

	resp, err := p.client.DistanceMatrix(ctx, &gmaps.DistanceMatrixRequest{
		Origins:       originStrs,
		Destinations:  destStrs,
		Mode:          gmaps.TravelModeDriving,
		DepartureTime: fmt.Sprintf("%d", departAt.Unix()),
		TrafficModel:  gmaps.TrafficModelBestGuess,
	})
	if err != nil {
		return nil, fmt.Errorf("distance matrix error: %w", err)
	}

	out := make([][]LegEstimate, len(resp.Rows))
	for i, row := range resp.Rows {
		out[i] = make([]LegEstimate, len(row.Elements))
		for j, el := range row.Elements {
			dur := el.Duration
			if el.DurationInTraffic > 0 {
				dur = el.DurationInTraffic
			}
			out[i][j] = LegEstimate{
				DurationSeconds: int(dur.Seconds()),
				DistanceMeters:  el.Distance.Meters,
			}
		}
	}
	return out, nil
}

func (p *googleMapsProvider) GetDirections(ctx context.Context, origin, destination geo.Location, waypoints []geo.Location, departAt time.Time) (RouteEstimate, error) {
	waypointStrs := make([]string, len(waypoints))
	for i, w := range waypoints {
		waypointStrs[i] = locString(w)
	}

	r := &gmaps.DirectionsRequest{
		Origin:        locString(origin),
		Destination:   locString(destination),
		Waypoints:     waypointStrs,
		Mode:          gmaps.TravelModeDriving,
		DepartureTime: fmt.Sprintf("%d", departAt.Unix()),
		TrafficModel:  gmaps.TrafficModelBestGuess,
	}

	routes, _, err := p.client.Directions(ctx, r)
	if err != nil {
		return RouteEstimate{}, fmt.Errorf("directions error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return RouteEstimate{}, fmt.Errorf("no route found")
	}

	var totalDuration time.Duration
	var totalMeters int
	for _, leg := range routes[0].Legs {
		d := leg.Duration
		if leg.DurationInTraffic > 0 {
			d = leg.DurationInTraffic
		}
		totalDuration += d
		totalMeters += leg.Distance.Meters
	}

	return RouteEstimate{
		DurationSeconds: int(totalDuration.Seconds()),
		DistanceMeters:  totalMeters,
		Polyline:        routes[0].OverviewPolyline.Points,
	}, nil
}

// haversineProvider is the fallback used when no Google Maps key is
// configured, or wrapped around googleMapsProvider to absorb its errors.
type haversineProvider struct {
	speedKmh float64
}

// NewHaversineProvider builds a fallback RoutingProvider estimating
// duration from great-circle distance at a nominal speed.
func NewHaversineProvider(speedKmh float64) RoutingProvider {
	return &haversineProvider{speedKmh: speedKmh}
}

func (p *haversineProvider) estimate(a, b geo.Location) LegEstimate {
	km := geo.HaversineKm(a, b)
	hours := km / p.speedKmh
	return LegEstimate{
		DurationSeconds: int(hours * 3600),
		DistanceMeters:  int(km * 1000),
	}
}

func (p *haversineProvider) GetDistanceMatrix(ctx context.Context, origins, destinations []geo.Location, departAt time.Time) ([][]LegEstimate, error) {
	out := make([][]LegEstimate, len(origins))
	for i, o := range origins {
		out[i] = make([]LegEstimate, len(destinations))
		for j, d := range destinations {
			out[i][j] = p.estimate(o, d)
		}
	}
	return out, nil
}

func (p *haversineProvider) GetDirections(ctx context.Context, origin, destination geo.Location, waypoints []geo.Location, departAt time.Time) (RouteEstimate, error) {
	stops := append([]geo.Location{origin}, waypoints...)
	stops = append(stops, destination)

	var duration, meters int
	for i := 0; i+1 < len(stops); i++ {
		leg := p.estimate(stops[i], stops[i+1])
		duration += leg.DurationSeconds
		meters += leg.DistanceMeters
	}
	return RouteEstimate{DurationSeconds: duration, DistanceMeters: meters}, nil
}

// fallbackProvider tries primary first, bounded by timeout, and falls back
// to haversine on timeout/error, satisfying the "each external call has a
// per-call timeout and falls back to the haversine estimator on
// timeout/error" contract.
type fallbackProvider struct {
	primary  RoutingProvider
	fallback RoutingProvider
	timeout  time.Duration
}

// NewFallbackProvider wraps primary so that any error, or a call running
// longer than timeout, degrades to fallback instead of surfacing to the
// caller or blocking indefinitely. timeout <= 0 disables the deadline.
func NewFallbackProvider(primary, fallback RoutingProvider, timeout time.Duration) RoutingProvider {
	return &fallbackProvider{primary: primary, fallback: fallback, timeout: timeout}
}

// classifyProviderError maps a primary-provider failure onto the closed
// apperr vocabulary: ROUTING_PROVIDER_TIMEOUT for a deadline, otherwise
// ROUTING_PROVIDER_ERROR. The code is carried in the error returned when the
// fallback also fails; when the fallback succeeds it is discarded.
func classifyProviderError(err error) *apperr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.CodeRoutingProviderTimeout, "routing provider timed out", nil)
	}
	return apperr.New(apperr.CodeRoutingProviderError, err.Error(), nil)
}

func (p *fallbackProvider) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *fallbackProvider) GetDistanceMatrix(ctx context.Context, origins, destinations []geo.Location, departAt time.Time) ([][]LegEstimate, error) {
	primaryCtx, cancel := p.callCtx(ctx)
	out, err := p.primary.GetDistanceMatrix(primaryCtx, origins, destinations, departAt)
	cancel()
	if err == nil {
		return out, nil
	}
	providerErr := classifyProviderError(err)
	out, fbErr := p.fallback.GetDistanceMatrix(ctx, origins, destinations, departAt)
	if fbErr != nil {
		return nil, fmt.Errorf("primary provider failed (%s) and fallback failed: %w", providerErr.Code, fbErr)
	}
	return out, nil
}

func (p *fallbackProvider) GetDirections(ctx context.Context, origin, destination geo.Location, waypoints []geo.Location, departAt time.Time) (RouteEstimate, error) {
	primaryCtx, cancel := p.callCtx(ctx)
	out, err := p.primary.GetDirections(primaryCtx, origin, destination, waypoints, departAt)
	cancel()
	if err == nil {
		return out, nil
	}
	providerErr := classifyProviderError(err)
	out, fbErr := p.fallback.GetDirections(ctx, origin, destination, waypoints, departAt)
	if fbErr != nil {
		return RouteEstimate{}, fmt.Errorf("primary provider failed (%s) and fallback failed: %w", providerErr.Code, fbErr)
	}
	return out, nil
}
