package navigator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/curbz/wayfinder/internal/catalog"
	"github.com/curbz/wayfinder/internal/directions"
	"github.com/curbz/wayfinder/internal/model"
	"github.com/curbz/wayfinder/internal/position"
	"github.com/curbz/wayfinder/internal/tracker"
)

var (
	gate    = model.Coordinate{Lat: 6.8892, Lng: 3.7199}
	stepA   = model.Coordinate{Lat: 6.8900, Lng: 3.7180}
	stepB   = model.Coordinate{Lat: 6.8910, Lng: 3.7160}
	library = model.Coordinate{Lat: 6.8935, Lng: 3.7101}
)

func campusRoute() model.Route {
	return model.Route{
		Summary: "Campus Walkway",
		Steps: []model.RouteStep{
			{End: stepA, Instruction: "Head <b>north</b>", LegDistance: "1.3 km", LegDuration: "15 mins"},
			{End: stepB, Instruction: "Turn <b>left</b>", LegDistance: "1.3 km", LegDuration: "15 mins"},
			{End: library, Instruction: "Continue to the library", LegDistance: "1.3 km", LegDuration: "15 mins"},
		},
	}
}

type MockCatalog struct{}

func (MockCatalog) FindByName(name string) (model.Location, error) {
	if name == "Laz Otti Library" {
		return model.Location{Name: name, Category: "academic", Lat: library.Lat, Lng: library.Lng}, nil
	}
	return model.Location{}, fmt.Errorf("%w: %q", catalog.ErrLookupMiss, name)
}

type MockGateway struct {
	mu       sync.Mutex
	Route    model.Route
	Err      error
	Calls    int
	LastMode model.TravelMode

	// when set, RequestRoute signals Entered and waits for Release
	Entered chan struct{}
	Release chan struct{}
}

func (m *MockGateway) RequestRoute(ctx context.Context, origin, dest model.Coordinate, mode model.TravelMode) (model.Route, error) {
	if m.Entered != nil {
		m.Entered <- struct{}{}
		<-m.Release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.LastMode = mode
	if m.Err != nil {
		return model.Route{}, m.Err
	}
	return m.Route, nil
}

type MockSubscription struct {
	onSample  position.SampleFunc
	onError   position.ErrorFunc
	mu        sync.Mutex
	cancelled bool
}

func (m *MockSubscription) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
}

func (m *MockSubscription) Cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// Send delivers a sample the way the stream's read goroutine would, even after
// Cancel, so stale-callback handling can be tested.
func (m *MockSubscription) Send(c model.Coordinate) {
	m.onSample(model.PositionSample{Coordinate: c})
}

func (m *MockSubscription) Fail(err error) {
	m.onError(err)
}

type MockStream struct {
	mu         sync.Mutex
	Fix        model.Coordinate
	CurrentErr error
	WatchErr   error
	Subs       []*MockSubscription
}

func (m *MockStream) Watch(ctx context.Context, onSample position.SampleFunc, onError position.ErrorFunc) (position.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WatchErr != nil {
		return nil, m.WatchErr
	}
	sub := &MockSubscription{onSample: onSample, onError: onError}
	m.Subs = append(m.Subs, sub)
	return sub, nil
}

func (m *MockStream) Current(ctx context.Context) (model.Coordinate, error) {
	if m.CurrentErr != nil {
		return model.Coordinate{}, m.CurrentErr
	}
	return m.Fix, nil
}

func (m *MockStream) Last() *MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Subs[len(m.Subs)-1]
}

type MockPresenter struct {
	mu     sync.Mutex
	Events []Event
}

func (m *MockPresenter) Present(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
}

func (m *MockPresenter) Types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, len(m.Events))
	for i, ev := range m.Events {
		out[i] = ev.Type
	}
	return out
}

func (m *MockPresenter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = nil
}

func assertTypes(t *testing.T, got []EventType, want ...EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

type fixture struct {
	session   *Session
	gateway   *MockGateway
	stream    *MockStream
	presenter *MockPresenter
}

func newFixture() *fixture {
	f := &fixture{
		gateway:   &MockGateway{Route: campusRoute()},
		stream:    &MockStream{Fix: gate},
		presenter: &MockPresenter{},
	}
	f.session = New(MockCatalog{}, f.gateway, f.stream, f.presenter)
	return f
}

// navigating locates the user, picks the library and loads the route.
func (f *fixture) navigating(t *testing.T) *MockSubscription {
	t.Helper()
	if _, err := f.session.Locate(context.Background()); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if _, err := f.session.SelectDestination("Laz Otti Library"); err != nil {
		t.Fatalf("SelectDestination: %v", err)
	}
	if err := f.session.StartDirections(context.Background(), model.Walking); err != nil {
		t.Fatalf("StartDirections: %v", err)
	}
	return f.stream.Last()
}

func TestNavigateToArrival(t *testing.T) {
	f := newFixture()
	sub := f.navigating(t)

	if st := f.session.State(); st.Phase != tracker.Tracking || st.StepIndex != 0 {
		t.Fatalf("expected tracking at step 0, got %+v", st)
	}
	select {
	case <-f.session.Finished():
		t.Fatal("Finished closed while tracking")
	default:
	}

	sub.Send(stepA)
	sub.Send(gate)
	sub.Send(stepB)
	sub.Send(library)

	assertTypes(t, f.presenter.Types(), RouteLoaded, StepAdvanced, NoChange, StepAdvanced, Arrived, NavigationEnded)

	events := f.presenter.Events
	if events[0].Step.Instruction != "Head <b>north</b>" || events[0].StepCount != 3 || events[0].Route.Len() != 3 {
		t.Errorf("RouteLoaded should carry the route and first step, got %+v", events[0])
	}
	if events[1].Step.End != stepB || events[1].StepIndex != 1 {
		t.Errorf("StepAdvanced should point at the second step, got %+v", events[1])
	}
	if events[2].Step.End != stepB || events[2].Distance <= tracker.ArrivalThresholdKM {
		t.Errorf("NoChange should repeat the current step, got %+v", events[2])
	}
	for _, ev := range events {
		if ev.SessionID != f.session.ID() || ev.Destination.Name != "Laz Otti Library" || ev.Mode != model.Walking {
			t.Errorf("event missing session context: %+v", ev)
		}
	}

	if st := f.session.State(); st.Phase != tracker.Idle {
		t.Errorf("expected Idle after arrival, got %v", st.Phase)
	}
	if !sub.Cancelled() {
		t.Error("watch should be cancelled after arrival")
	}
	select {
	case <-f.session.Finished():
	default:
		t.Error("Finished should be closed after arrival")
	}

	// a late sample from the finished watch changes nothing
	sub.Send(library)
	if got := len(f.presenter.Types()); got != 6 {
		t.Errorf("late sample produced events: %v", f.presenter.Types())
	}
}

func TestRouteUnavailable(t *testing.T) {
	f := newFixture()
	f.gateway.Err = fmt.Errorf("%w: ZERO_RESULTS", directions.ErrRouteNotFound)

	f.session.Locate(context.Background())
	f.session.SelectDestination("Laz Otti Library")
	err := f.session.StartDirections(context.Background(), model.Transit)
	if !errors.Is(err, directions.ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}

	assertTypes(t, f.presenter.Types(), RouteUnavailable)
	if f.presenter.Events[0].Err == nil {
		t.Error("RouteUnavailable should carry the cause")
	}
	if st := f.session.State(); st.Phase != tracker.Idle {
		t.Errorf("expected Idle, got %v", st.Phase)
	}
	if len(f.stream.Subs) != 0 {
		t.Error("no position watch should be registered without a route")
	}
	if f.gateway.LastMode != model.Transit {
		t.Errorf("mode not passed through, got %v", f.gateway.LastMode)
	}
}

func TestEmptyRouteIsUnavailable(t *testing.T) {
	f := newFixture()
	f.gateway.Route = model.Route{}

	f.session.Locate(context.Background())
	f.session.SelectDestination("Laz Otti Library")
	err := f.session.StartDirections(context.Background(), model.Walking)
	if !errors.Is(err, directions.ErrRouteNotFound) || !errors.Is(err, tracker.ErrInvalidRoute) {
		t.Fatalf("expected route not found caused by invalid route, got %v", err)
	}
	assertTypes(t, f.presenter.Types(), RouteUnavailable)
}

func TestStartDirectionsPreconditions(t *testing.T) {
	f := newFixture()
	if err := f.session.StartDirections(context.Background(), model.Walking); !errors.Is(err, ErrNoLocation) {
		t.Errorf("expected ErrNoLocation, got %v", err)
	}
	f.session.Locate(context.Background())
	if err := f.session.StartDirections(context.Background(), model.Walking); !errors.Is(err, ErrNoDestination) {
		t.Errorf("expected ErrNoDestination, got %v", err)
	}
	if f.gateway.Calls != 0 {
		t.Errorf("gateway should not be called, got %d calls", f.gateway.Calls)
	}
}

func TestSelectDestinationMiss(t *testing.T) {
	f := newFixture()
	if _, err := f.session.SelectDestination("Senate Building"); !errors.Is(err, catalog.ErrLookupMiss) {
		t.Fatalf("expected ErrLookupMiss, got %v", err)
	}
	// recoverable: a later valid selection works
	if _, err := f.session.SelectDestination("Laz Otti Library"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRestartCancelsPreviousWatch(t *testing.T) {
	f := newFixture()
	first := f.navigating(t)
	first.Send(stepA)

	if err := f.session.StartDirections(context.Background(), model.Walking); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := f.stream.Last()
	if first == second {
		t.Fatal("expected a new watch")
	}
	if !first.Cancelled() {
		t.Error("previous watch should be cancelled")
	}
	if st := f.session.State(); st.StepIndex != 0 {
		t.Errorf("new route should start at step 0, got %d", st.StepIndex)
	}

	f.presenter.Reset()
	first.Send(stepA)
	first.Fail(&position.PositionError{Code: position.CodePermissionDenied, Message: "denied"})
	if got := f.presenter.Types(); len(got) != 0 {
		t.Errorf("stale watch produced events: %v", got)
	}
	if st := f.session.State(); st.Phase != tracker.Tracking || st.StepIndex != 0 {
		t.Errorf("stale watch changed state: %+v", st)
	}

	second.Send(stepA)
	assertTypes(t, f.presenter.Types(), StepAdvanced)
}

func TestPermissionDeniedEndsNavigation(t *testing.T) {
	f := newFixture()
	sub := f.navigating(t)

	sub.Fail(&position.PositionError{Code: position.CodePermissionDenied, Message: "User denied Geolocation"})

	assertTypes(t, f.presenter.Types(), RouteLoaded, LocationPermissionDenied, NavigationEnded)
	if st := f.session.State(); st.Phase != tracker.Idle {
		t.Errorf("expected Idle, got %v", st.Phase)
	}
	if !sub.Cancelled() {
		t.Error("watch should be cancelled")
	}

	// safe to retry once a destination is chosen again
	f.session.SelectDestination("Laz Otti Library")
	if err := f.session.StartDirections(context.Background(), model.Walking); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if st := f.session.State(); st.Phase != tracker.Tracking {
		t.Errorf("expected Tracking after retry, got %v", st.Phase)
	}
}

func TestPositionUnavailableKeepsRoute(t *testing.T) {
	f := newFixture()
	sub := f.navigating(t)
	sub.Send(stepA)

	sub.Fail(&position.PositionError{Code: position.CodeTimeout, Message: "Timeout expired"})

	assertTypes(t, f.presenter.Types(), RouteLoaded, StepAdvanced, PositionUnavailable)
	if st := f.session.State(); st.Phase != tracker.Tracking || st.StepIndex != 1 {
		t.Errorf("route should be kept, got %+v", st)
	}
	if sub.Cancelled() {
		t.Error("watch should stay open")
	}

	sub.Send(stepB)
	if st := f.session.State(); st.StepIndex != 2 {
		t.Errorf("tracking should resume, got %+v", st)
	}
}

func TestWatchFailureEndsNavigation(t *testing.T) {
	f := newFixture()
	f.stream.WatchErr = &position.PositionError{Code: position.CodePositionUnavailable, Message: "no feed"}

	f.session.Locate(context.Background())
	f.session.SelectDestination("Laz Otti Library")
	err := f.session.StartDirections(context.Background(), model.Walking)
	if !errors.Is(err, position.ErrPositionUnavailable) {
		t.Fatalf("expected ErrPositionUnavailable, got %v", err)
	}
	assertTypes(t, f.presenter.Types(), RouteLoaded, PositionUnavailable, NavigationEnded)
	if st := f.session.State(); st.Phase != tracker.Idle {
		t.Errorf("expected Idle, got %v", st.Phase)
	}
}

func TestEndNavigation(t *testing.T) {
	f := newFixture()
	sub := f.navigating(t)

	f.session.EndNavigation()
	f.session.EndNavigation()

	assertTypes(t, f.presenter.Types(), RouteLoaded, NavigationEnded)
	if !sub.Cancelled() {
		t.Error("watch should be cancelled")
	}
	if st := f.session.State(); st.Phase != tracker.Idle || st.LastKnown != nil {
		t.Errorf("expected a fresh Idle state, got %+v", st)
	}

	sub.Send(stepA)
	if got := len(f.presenter.Types()); got != 2 {
		t.Errorf("sample after EndNavigation produced events: %v", f.presenter.Types())
	}
	if ended := f.presenter.Events[1]; ended.Destination.Name != "Laz Otti Library" {
		t.Errorf("NavigationEnded should name the destination, got %+v", ended.Destination)
	}

	// the destination does not carry over to the next navigation
	if err := f.session.StartDirections(context.Background(), model.Walking); !errors.Is(err, ErrNoDestination) {
		t.Errorf("expected ErrNoDestination after ending, got %v", err)
	}
	if f.gateway.Calls != 1 {
		t.Errorf("gateway should not be called again, got %d calls", f.gateway.Calls)
	}
}

func TestArrivalClearsDestination(t *testing.T) {
	f := newFixture()
	sub := f.navigating(t)
	sub.Send(stepA)
	sub.Send(stepB)
	sub.Send(library)

	if err := f.session.StartDirections(context.Background(), model.Walking); !errors.Is(err, ErrNoDestination) {
		t.Errorf("expected ErrNoDestination after arrival, got %v", err)
	}
}

func TestSessionUnlockedDuringDirectionsRequest(t *testing.T) {
	f := newFixture()
	f.gateway.Entered = make(chan struct{})
	f.gateway.Release = make(chan struct{})

	f.session.Locate(context.Background())
	f.session.SelectDestination("Laz Otti Library")

	result := make(chan error, 1)
	go func() {
		result <- f.session.StartDirections(context.Background(), model.Walking)
	}()
	<-f.gateway.Entered

	ended := make(chan struct{})
	go func() {
		if st := f.session.State(); st.Phase != tracker.Idle {
			t.Errorf("expected Idle while waiting for directions, got %v", st.Phase)
		}
		f.session.EndNavigation()
		close(ended)
	}()
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("session stayed locked during the directions request")
	}

	close(f.gateway.Release)
	if err := <-result; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if got := f.presenter.Types(); len(got) != 0 {
		t.Errorf("discarded route produced events: %v", got)
	}
	if len(f.stream.Subs) != 0 {
		t.Error("no watch should start for a discarded route")
	}
	if st := f.session.State(); st.Phase != tracker.Idle {
		t.Errorf("expected Idle, got %v", st.Phase)
	}
}

func TestLocatePermissionDenied(t *testing.T) {
	f := newFixture()
	f.stream.CurrentErr = &position.PositionError{Code: position.CodePermissionDenied, Message: "denied"}

	if _, err := f.session.Locate(context.Background()); !errors.Is(err, position.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	assertTypes(t, f.presenter.Types(), LocationPermissionDenied)

	f.session.SelectDestination("Laz Otti Library")
	if err := f.session.StartDirections(context.Background(), model.Walking); !errors.Is(err, ErrNoLocation) {
		t.Errorf("expected ErrNoLocation, got %v", err)
	}
}

func TestEventsAreSnapshots(t *testing.T) {
	f := newFixture()
	sub := f.navigating(t)

	loaded := f.presenter.Events[0]
	loaded.Route.Steps[1].Instruction = "tampered"

	sub.Send(stepA)
	advanced := f.presenter.Events[1]
	if advanced.Step.Instruction != "Turn <b>left</b>" {
		t.Errorf("presenter mutation leaked into the tracker: %q", advanced.Step.Instruction)
	}
	*advanced.Position = model.Coordinate{}
	if st := f.session.State(); *st.LastKnown != stepA {
		t.Errorf("presenter mutation leaked into state: %v", st.LastKnown)
	}
}

func TestConcurrentSamples(t *testing.T) {
	f := newFixture()
	sub := f.navigating(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Send(gate)
			f.session.State()
		}()
	}
	wg.Wait()

	types := f.presenter.Types()
	if len(types) != 21 {
		t.Fatalf("expected 21 events, got %d", len(types))
	}
	for _, et := range types[1:] {
		if et != NoChange {
			t.Errorf("expected only NoChange, got %v", et)
		}
	}
}

func TestEventTypeString(t *testing.T) {
	if RouteUnavailable.String() != "RouteUnavailable" || EventType(99).String() != "Unknown" {
		t.Error("unexpected event type names")
	}
}
