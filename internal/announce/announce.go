// Package announce turns navigation events into user-facing lines, logs them
// and, when configured, speaks them with piper and sox.
package announce

import (
	"fmt"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/navigator"
	"github.com/curbz/wayfinder/pkg/util"
)

const defaultQueueSize = 32

type config struct {
	Announce struct {
		QueueSize int `yaml:"queue_size" validate:"gte=0"`
		Speech    struct {
			Enabled bool  `yaml:"enabled"`
			Piper   Piper `yaml:"piper"`
			Sox     Sox   `yaml:"sox"`
		} `yaml:"speech"`
	} `yaml:"announce"`
}

// Announcer presents events asynchronously. Present never blocks: when the
// queue is full the event is dropped with a warning.
type Announcer struct {
	queue   chan navigator.Event
	out     io.Writer
	speaker Speaker

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds an announcer from the announce section of the config file.
// Lines are also written to out when it is non-nil.
func New(cfgPath string, out io.Writer) (*Announcer, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, fmt.Errorf("error reading announce configuration: %w", err)
	}
	ac := cfg.Announce

	var speaker Speaker
	if ac.Speech.Enabled {
		if ac.Speech.Piper.Application == "" || ac.Speech.Piper.VoiceModel == "" || ac.Speech.Sox.Application == "" {
			return nil, fmt.Errorf("speech enabled but piper application, voice model or sox application not configured")
		}
		speaker = NewPiperSpeaker(ac.Speech.Piper, ac.Speech.Sox)
		log.Printf("Speech enabled using voice %s", ac.Speech.Piper.VoiceModel)
	}
	return NewAnnouncer(ac.QueueSize, out, speaker), nil
}

// NewAnnouncer starts the worker. speaker may be nil.
func NewAnnouncer(queueSize int, out io.Writer, speaker Speaker) *Announcer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	a := &Announcer{
		queue:   make(chan navigator.Event, queueSize),
		out:     out,
		speaker: speaker,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Announcer) Present(ev navigator.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		log.Warnf("Announcement queue full, dropping %s event", ev.Type)
	}
}

// Close stops accepting events and waits for queued ones to be presented.
func (a *Announcer) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
	if a.speaker != nil {
		a.speaker.Close()
	}
}

func (a *Announcer) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		lines := Lines(ev)
		label := sessionLabel(ev.SessionID)
		for _, line := range lines {
			util.LogWithLabel(label, "%s", line)
			if a.out != nil {
				fmt.Fprintln(a.out, line)
			}
		}
		if a.speaker != nil && spoken(ev.Type) && len(lines) > 0 {
			a.speaker.Say(strings.Join(lines, ". "))
		}
	}
}

func sessionLabel(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "wayfinder"
	}
	return id
}

// progress updates repeat on every sample and are not worth saying aloud
func spoken(et navigator.EventType) bool {
	return et != navigator.NoChange
}

// Lines renders an event as the lines shown to the user.
func Lines(ev navigator.Event) []string {
	switch ev.Type {
	case navigator.RouteLoaded:
		header := fmt.Sprintf("Route to %s", ev.Destination.Name)
		if ev.Route.Summary != "" {
			header += " via " + ev.Route.Summary
		}
		header += fmt.Sprintf(" (%d steps)", ev.Route.Len())
		return append([]string{header}, stepLines(ev)...)
	case navigator.StepAdvanced, navigator.NoChange:
		return stepLines(ev)
	case navigator.Arrived:
		return []string{"You have arrived at your destination."}
	case navigator.NavigationEnded:
		return []string{"Navigation ended."}
	case navigator.RouteUnavailable:
		return []string{"Could not find a route."}
	case navigator.LocationPermissionDenied:
		return []string{"Location access denied."}
	case navigator.PositionUnavailable:
		return []string{"Position unavailable, waiting for a location fix."}
	default:
		return nil
	}
}

func stepLines(ev navigator.Event) []string {
	var lines []string
	if instr := util.StripTags(ev.Step.Instruction); instr != "" {
		lines = append(lines, instr)
	}
	if ev.Step.LegDistance != "" {
		lines = append(lines, "Distance remaining: "+ev.Step.LegDistance)
	}
	if ev.Step.LegDuration != "" {
		lines = append(lines, "Estimated time: "+ev.Step.LegDuration)
	}
	return lines
}
