package directions

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/pkg/errors"
	"googlemaps.github.io/maps"
)

var (
	ErrNoRoute       = errors.New("directions: no route found")
	ErrNoDestination = errors.New("directions: booking has no next stop")
)

type Router interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

type Estimate struct {
	Duration    time.Duration `json:"duration"`
	DistanceM   int           `json:"distanceMeters"`
	Distance    string        `json:"distance"`
	Destination string        `json:"destination"`
	ToPickup    bool          `json:"toPickup"`
}

type Service struct {
	router Router
}

func New(apiKey string) (*Service, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "create maps client")
	}
	return &Service{router: client}, nil
}

func NewWithRouter(r Router) *Service {
	return &Service{router: r}
}

// NextStop is the pickup until the agent has arrived there, then the dropoff.
func NextStop(b models.Booking) (models.Place, bool) {
	if b.Status.Rank() < models.StatusArrivedPickup.Rank() {
		return b.Pickup, true
	}
	return b.Dropoff, false
}

// ETA estimates the driving time from the agent's last known location to the
// booking's next stop.
func (s *Service) ETA(ctx context.Context, b models.Booking, from models.Point) (Estimate, error) {
	stop, toPickup := NextStop(b)
	dest := destination(stop)
	if dest == "" {
		return Estimate{}, ErrNoDestination
	}

	routes, _, err := s.router.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: dest,
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return Estimate{}, errors.Wrap(err, "maps directions")
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return Estimate{
		Duration:    leg.Duration,
		DistanceM:   leg.Distance.Meters,
		Distance:    leg.Distance.HumanReadable,
		Destination: dest,
		ToPickup:    toPickup,
	}, nil
}

func destination(p models.Place) string {
	if p.Point.Lat != 0 || p.Point.Lng != 0 {
		return latLng(p.Point)
	}
	return p.Address
}

func latLng(p models.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
