package tracker

import (
	"errors"
	"fmt"

	"github.com/curbz/wayfinder/internal/model"
)

// ArrivalThresholdKM is the radius around a step's end point that counts as
// having reached it (20 m).
const ArrivalThresholdKM = 0.02

var (
	ErrInvalidRoute = errors.New("invalid route")
	ErrNotTracking  = errors.New("tracker has no active route")
)

type Phase int

const (
	Idle Phase = iota
	Tracking
	Arrived
)

func (p Phase) String() string {
	return [...]string{
		"Idle",
		"Tracking",
		"Arrived",
	}[p]
}

// State is the progress of one navigation session along its route.
type State struct {
	Phase     Phase
	StepIndex int
	LastKnown *model.Coordinate
	Arrived   bool
}

type EventType int

const (
	NoChange EventType = iota
	StepAdvanced
	ArrivedAtDestination
)

func (et EventType) String() string {
	return [...]string{
		"NoChange",
		"StepAdvanced",
		"Arrived",
	}[et]
}

// Event is the outcome of one position sample. For NoChange and StepAdvanced
// Step is the step now current; for ArrivedAtDestination it is zero.
type Event struct {
	Type      EventType
	StepIndex int
	Step      model.RouteStep
	Distance  float64 // km from the sample to the end of the step it was tested against
}

// ValidateRoute rejects routes that cannot be tracked.
func ValidateRoute(route model.Route) error {
	if route.Len() == 0 {
		return fmt.Errorf("%w: route has no steps", ErrInvalidRoute)
	}
	for i, step := range route.Steps {
		if !step.End.IsFinite() {
			return fmt.Errorf("%w: step %d has no usable end coordinate", ErrInvalidRoute, i)
		}
	}
	return nil
}

// Advance applies one position sample to state and returns the new state and
// the event to present. It never advances more than one step per sample.
// state is not modified; an error means the sample was not applied.
func Advance(state State, route model.Route, c model.Coordinate) (State, Event, error) {
	if state.Phase != Tracking {
		return state, Event{}, fmt.Errorf("%w: phase is %s", ErrNotTracking, state.Phase)
	}

	next := state
	pos := c
	next.LastKnown = &pos

	// bound check, should be unreachable while the invariants hold
	if next.StepIndex >= route.Len() {
		next.StepIndex = route.Len()
		next.Phase = Arrived
		next.Arrived = true
		return next, Event{Type: ArrivedAtDestination, StepIndex: next.StepIndex}, nil
	}

	step := route.Steps[next.StepIndex]
	d := c.DistanceKM(step.End)

	// a step is passed only when the sample is within the threshold
	if !(d < ArrivalThresholdKM) {
		return next, Event{Type: NoChange, StepIndex: next.StepIndex, Step: step, Distance: d}, nil
	}

	next.StepIndex++
	if next.StepIndex == route.Len() {
		next.Phase = Arrived
		next.Arrived = true
		return next, Event{Type: ArrivedAtDestination, StepIndex: next.StepIndex, Distance: d}, nil
	}

	return next, Event{
		Type:      StepAdvanced,
		StepIndex: next.StepIndex,
		Step:      route.Steps[next.StepIndex],
		Distance:  d,
	}, nil
}

// Tracker holds the route and state of a single navigation session.
// It is not safe for concurrent use; the owning session serialises calls.
type Tracker struct {
	route model.Route
	state State
}

func New() *Tracker {
	return &Tracker{}
}

// LoadRoute replaces any current route and starts tracking from step 0.
// On error the tracker is left exactly as it was.
func (t *Tracker) LoadRoute(route model.Route) error {
	if err := ValidateRoute(route); err != nil {
		return err
	}
	t.route = route
	t.state = State{Phase: Tracking}
	return nil
}

func (t *Tracker) OnPositionSample(c model.Coordinate) (Event, error) {
	next, ev, err := Advance(t.state, t.route, c)
	if err != nil {
		return Event{}, err
	}
	t.state = next
	return ev, nil
}

// Reset drops the route and returns to Idle.
func (t *Tracker) Reset() {
	t.route = model.Route{}
	t.state = State{}
}

func (t *Tracker) State() State {
	s := t.state
	if s.LastKnown != nil {
		pos := *s.LastKnown
		s.LastKnown = &pos
	}
	return s
}

func (t *Tracker) Route() model.Route {
	return t.route
}

// CurrentStep returns the step being travelled, false when idle or arrived.
func (t *Tracker) CurrentStep() (model.RouteStep, bool) {
	if t.state.Phase != Tracking || t.state.StepIndex >= t.route.Len() {
		return model.RouteStep{}, false
	}
	return t.route.Steps[t.state.StepIndex], true
}
