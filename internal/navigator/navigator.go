// Package navigator drives one navigation session: it picks a destination,
// fetches directions, watches the device position and feeds each sample to
// the progress tracker, reporting every outcome to a Presenter.
//
// Position callbacks arrive on the stream's own goroutine. All state changes,
// whether from callers or callbacks, go through the session mutex, and
// callbacks from a superseded watch are dropped by generation number.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/directions"
	"github.com/curbz/wayfinder/internal/model"
	"github.com/curbz/wayfinder/internal/position"
	"github.com/curbz/wayfinder/internal/tracker"
	"github.com/curbz/wayfinder/pkg/util"
)

var (
	ErrNoLocation    = errors.New("user location unknown")
	ErrNoDestination = errors.New("no destination selected")
	ErrSuperseded    = errors.New("navigation changed while directions were requested")
)

// Catalog resolves destination names.
type Catalog interface {
	FindByName(name string) (model.Location, error)
}

// Presenter receives session events. Present must not block.
type Presenter interface {
	Present(Event)
}

type Session struct {
	id        string
	catalog   Catalog
	gateway   directions.Gateway
	stream    position.Stream
	presenter Presenter

	mu          sync.Mutex
	tracker     *tracker.Tracker
	user        *model.Coordinate
	destination *model.Location
	mode        model.TravelMode
	sub         position.Subscription
	generation  uint64
	finished    chan struct{}
}

func New(catalog Catalog, gateway directions.Gateway, stream position.Stream, presenter Presenter) *Session {
	s := &Session{
		id:        uuid.NewString(),
		catalog:   catalog,
		gateway:   gateway,
		stream:    stream,
		presenter: presenter,
		tracker:   tracker.New(),
	}
	util.LogWithLabel(s.id, "Navigation session created")
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Locate takes a one-shot position fix and stores it as the user location.
func (s *Session) Locate(ctx context.Context) (model.Coordinate, error) {
	c, err := s.stream.Current(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if errors.Is(err, position.ErrPermissionDenied) {
			s.emit(Event{Type: LocationPermissionDenied, Err: err})
		} else {
			s.emit(Event{Type: PositionUnavailable, Err: err})
		}
		return model.Coordinate{}, fmt.Errorf("could not locate user: %w", err)
	}

	s.user = &c
	util.LogWithLabel(s.id, "User located at %s", c)
	return c, nil
}

// SelectDestination looks the name up in the catalog. A miss leaves any
// previous selection in place.
func (s *Session) SelectDestination(name string) (model.Location, error) {
	loc, err := s.catalog.FindByName(name)
	if err != nil {
		return model.Location{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.destination = &loc
	util.LogWithLabel(s.id, "Destination set to %s (%s)", loc.Name, loc.Coordinate())
	return loc, nil
}

// StartDirections replaces any navigation in progress with a new route from
// the user location to the selected destination and starts watching position.
// The session is not locked while the gateway is queried; if EndNavigation or
// another StartDirections runs meanwhile, the route is discarded.
func (s *Session) StartDirections(ctx context.Context, mode model.TravelMode) error {
	s.mu.Lock()
	s.stopLocked(false)

	if s.user == nil {
		s.mu.Unlock()
		return ErrNoLocation
	}
	if s.destination == nil {
		s.mu.Unlock()
		return ErrNoDestination
	}
	origin, dest := *s.user, *s.destination
	s.mode = mode
	gen := s.generation
	s.mu.Unlock()

	util.LogWithLabel(s.id, "Requesting %s directions from %s to %s", mode, origin, dest.Name)
	route, err := s.gateway.RequestRoute(ctx, origin, dest.Coordinate(), mode)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		util.LogWithLabel(s.id, "Discarding directions to %s, navigation changed while waiting", dest.Name)
		return ErrSuperseded
	}

	if err == nil {
		if lerr := s.tracker.LoadRoute(route); lerr != nil {
			err = fmt.Errorf("%w: %w", directions.ErrRouteNotFound, lerr)
		}
	}
	if err != nil {
		util.LogWithLabel(s.id, "Directions request failed: %v", err)
		s.emit(Event{Type: RouteUnavailable, Err: err})
		return fmt.Errorf("directions to %s: %w", dest.Name, err)
	}

	first, _ := s.tracker.CurrentStep()
	s.emit(Event{Type: RouteLoaded, Route: route, Step: first})

	s.generation++
	gen = s.generation
	s.finished = make(chan struct{})

	// tracking outlives the request context; EndNavigation stops it
	sub, err := s.stream.Watch(context.WithoutCancel(ctx),
		func(sample model.PositionSample) { s.onSample(gen, sample) },
		func(err error) { s.onError(gen, err) },
	)
	if err != nil {
		s.positionErrorLocked(err, true)
		return fmt.Errorf("could not watch position: %w", err)
	}
	s.sub = sub
	return nil
}

// EndNavigation stops tracking and returns the session to Idle.
func (s *Session) EndNavigation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(true)
}

func (s *Session) State() tracker.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.State()
}

// Finished is closed when the current navigation ends, for any reason. With
// no navigation in progress it returns a closed channel.
func (s *Session) Finished() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.finished
}

func (s *Session) onSample(gen uint64, sample model.PositionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		log.Debugf("[%s] discarding sample from superseded watch %d", s.id, gen)
		return
	}

	c := sample.Coordinate
	s.user = &c

	te, err := s.tracker.OnPositionSample(c)
	if err != nil {
		log.Debugf("[%s] sample ignored: %v", s.id, err)
		return
	}

	ev := Event{StepIndex: te.StepIndex, Step: te.Step, Distance: te.Distance, Position: &c}
	switch te.Type {
	case tracker.NoChange:
		ev.Type = NoChange
		s.emit(ev)
	case tracker.StepAdvanced:
		ev.Type = StepAdvanced
		s.emit(ev)
	case tracker.ArrivedAtDestination:
		ev.Type = Arrived
		s.emit(ev)
		s.stopLocked(true)
	}
}

func (s *Session) onError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}
	s.positionErrorLocked(err, false)
}

// positionErrorLocked reports a stream failure. A refused permission always
// ends navigation; other failures keep the route unless the watch is gone.
func (s *Session) positionErrorLocked(err error, watchLost bool) {
	if errors.Is(err, position.ErrPermissionDenied) {
		util.LogWithLabel(s.id, "Location permission denied")
		s.emit(Event{Type: LocationPermissionDenied, Err: err})
		s.stopLocked(true)
		return
	}
	util.LogWithLabel(s.id, "Position unavailable: %v", err)
	s.emit(Event{Type: PositionUnavailable, Err: err})
	if watchLost {
		s.stopLocked(true)
	}
}

// stopLocked cancels the watch, resets the tracker and closes Finished. When
// announce is set the navigation is over, so the destination is cleared too.
func (s *Session) stopLocked(announce bool) {
	active := s.sub != nil || s.tracker.State().Phase != tracker.Idle

	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	s.generation++
	s.tracker.Reset()
	if s.finished != nil {
		close(s.finished)
		s.finished = nil
	}

	if !announce {
		return
	}
	if active {
		util.LogWithLabel(s.id, "Navigation ended")
		s.emit(Event{Type: NavigationEnded})
	}
	s.destination = nil
}

// emit hands a snapshot of the event to the presenter, so it never shares
// route data with the tracker.
func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	ev.Time = time.Now()
	if s.destination != nil {
		ev.Destination = *s.destination
	}
	ev.Mode = s.mode
	ev.StepCount = s.tracker.Route().Len()

	// errors carry unexported state that deepcopy would drop
	err := ev.Err
	ev.Err = nil
	snap := deepcopy.Copy(ev).(Event)
	snap.Err = err
	s.presenter.Present(snap)
}
