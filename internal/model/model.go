package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/curbz/wayfinder/pkg/geometry"
)

// Coordinate in degrees
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// IsFinite reports whether both components are real numbers.
func (c Coordinate) IsFinite() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) &&
		!math.IsInf(c.Lat, 0) && !math.IsInf(c.Lng, 0)
}

// DistanceKM is the great-circle distance to o.
func (c Coordinate) DistanceKM(o Coordinate) float64 {
	return geometry.DistKM(c.Lat, c.Lng, o.Lat, o.Lng)
}

// Towards returns the point a fraction f of the way to o.
func (c Coordinate) Towards(o Coordinate, f float64) Coordinate {
	lat, lng := geometry.Interpolate(c.Lat, c.Lng, o.Lat, o.Lng, f)
	return Coordinate{Lat: lat, Lng: lng}
}

// ParseCoordinate parses a string like "6.8935,3.7101" (lat,lng) into a Coordinate
func ParseCoordinate(input string) (Coordinate, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("invalid coordinate: %s", input)
	}

	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return Coordinate{}, fmt.Errorf("invalid lat/lng: %s", input)
	}

	return Coordinate{Lat: lat, Lng: lng}, nil
}

// RouteStep is one leg of a route. LegDistance and LegDuration hold the
// provider's text for the whole leg, which is what gets displayed as "remaining".
type RouteStep struct {
	End          Coordinate
	Instruction  string
	LegDistance  string
	LegDuration  string
	StepDistance string
	StepDuration string
}

// Route is an ordered list of steps, travel order
type Route struct {
	Steps   []RouteStep
	Summary string
}

func (r Route) Len() int {
	return len(r.Steps)
}

// Location is a named point of interest from the campus catalog
type Location struct {
	Name     string  `json:"name" validate:"required"`
	Category string  `json:"category"`
	Lat      float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (l Location) Coordinate() Coordinate {
	return Coordinate{Lat: l.Lat, Lng: l.Lng}
}

// PositionSample is one reported user position
type PositionSample struct {
	Coordinate Coordinate
	Timestamp  time.Time
}
