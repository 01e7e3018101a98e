package navigator

import (
	"time"

	"github.com/curbz/wayfinder/internal/model"
)

type EventType int

const (
	RouteLoaded EventType = iota
	StepAdvanced
	NoChange
	Arrived
	NavigationEnded
	RouteUnavailable
	LocationPermissionDenied
	PositionUnavailable
)

func (et EventType) String() string {
	names := [...]string{
		"RouteLoaded",
		"StepAdvanced",
		"NoChange",
		"Arrived",
		"NavigationEnded",
		"RouteUnavailable",
		"LocationPermissionDenied",
		"PositionUnavailable",
	}
	if et < 0 || int(et) >= len(names) {
		return "Unknown"
	}
	return names[et]
}

// Event is what a session reports to its presenter.
type Event struct {
	Type        EventType
	SessionID   string
	Time        time.Time
	Destination model.Location
	Mode        model.TravelMode

	// Route is set on RouteLoaded only.
	Route model.Route
	// Step is the step now being travelled (RouteLoaded, StepAdvanced, NoChange).
	Step      model.RouteStep
	StepIndex int
	StepCount int
	// Distance in km from Position to the end of the step it was tested against.
	Distance float64
	Position *model.Coordinate

	Err error
}
