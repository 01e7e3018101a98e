package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/model"
	"github.com/curbz/wayfinder/pkg/apimodel"
)

// Geolocation error codes sent on the position feed
const (
	PermissionDenied    = 1
	PositionUnavailable = 2
	Timeout             = 3
)

// Config controls what the mock providers answer.
type Config struct {
	// Track is replayed on every position subscription.
	Track []model.Coordinate
	// Interval between replayed positions.
	Interval time.Duration
	// ErrorCode, when non-zero, is sent once the track has been replayed.
	ErrorCode int
	// StepLengthKM is the rough length of each generated route step.
	StepLengthKM float64
}

type server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// Handler returns the mock directions + position feed handler, usable with httptest.
func Handler(cfg Config) http.Handler {
	if cfg.Interval <= 0 {
		cfg.Interval = 750 * time.Millisecond
	}
	if cfg.StepLengthKM <= 0 {
		cfg.StepLengthKM = 0.1
	}
	s := &server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/maps/api/directions/json", s.directionsHandler)
	mux.HandleFunc("/positions", s.positionsHandler)
	return mux
}

// Start starts the mock HTTP + WebSocket server on the given port (e.g. "8787").
// It returns the *http.Server so the caller can shut it down when desired.
func Start(port string, cfg Config) *http.Server {
	srv := &http.Server{Addr: ":" + port, Handler: Handler(cfg)}
	go func() {
		log.Printf("mockserver: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("mockserver: ListenAndServe error: %v", err)
		}
	}()
	return srv
}

func (s *server) directionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")

	origin, errO := model.ParseCoordinate(q.Get("origin"))
	dest, errD := model.ParseCoordinate(q.Get("destination"))
	if errO != nil || errD != nil {
		json.NewEncoder(w).Encode(map[string]any{"status": "INVALID_REQUEST", "error_message": "origin and destination must be lat,lng", "routes": []any{}})
		return
	}
	if q.Get("mode") == "transit" {
		json.NewEncoder(w).Encode(map[string]any{"status": "ZERO_RESULTS", "routes": []any{}})
		return
	}

	json.NewEncoder(w).Encode(buildRoute(origin, dest, s.cfg.StepLengthKM))
}

func textValue(km float64) map[string]any {
	metres := km * 1000
	text := fmt.Sprintf("%d m", int(metres+0.5))
	if metres >= 1000 {
		text = fmt.Sprintf("%.1f km", km)
	}
	return map[string]any{"text": text, "value": int(metres + 0.5)}
}

func durationValue(km float64) map[string]any {
	// walking pace, 5 km/h
	secs := km / 5 * 3600
	mins := int(secs/60 + 0.5)
	text := fmt.Sprintf("%d mins", mins)
	if mins <= 1 {
		text = "1 min"
	}
	return map[string]any{"text": text, "value": int(secs)}
}

// buildRoute splits the straight line from origin to dest into steps of roughly stepKM.
func buildRoute(origin, dest model.Coordinate, stepKM float64) map[string]any {
	total := origin.DistanceKM(dest)
	n := int(total/stepKM + 0.5)
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}

	steps := make([]map[string]any, 0, n)
	prev := origin
	for i := 1; i <= n; i++ {
		end := origin.Towards(dest, float64(i)/float64(n))
		if i == n {
			end = dest
		}
		var instr string
		switch {
		case i == 1 && n > 1:
			instr = "Head <b>toward</b> your destination"
		case i == n:
			instr = "Continue to your destination<div style=\"font-size:0.9em\">Destination will be on the right</div>"
		default:
			instr = "Continue <b>straight</b>"
		}
		km := prev.DistanceKM(end)
		steps = append(steps, map[string]any{
			"html_instructions": instr,
			"distance":          textValue(km),
			"duration":          durationValue(km),
			"start_location":    prev,
			"end_location":      end,
			"travel_mode":       "WALKING",
		})
		prev = end
	}

	return map[string]any{
		"status": "OK",
		"routes": []any{
			map[string]any{
				"summary": "Campus Walkway",
				"legs": []any{
					map[string]any{
						"distance": textValue(total),
						"duration": durationValue(total),
						"steps":    steps,
					},
				},
			},
		},
	}
}

func (s *server) positionsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mockserver: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)

	// read messages and react to subscription requests
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("mockserver: read error: %v", err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var incoming apimodel.PositionSubscriptionRequest
		if err := json.Unmarshal(msg, &incoming); err != nil {
			log.Printf("mockserver: invalid JSON: %v", err)
			continue
		}

		switch incoming.Type {
		case apimodel.TypePositionSubscribe:
			writeJSON(apimodel.Message{RequestID: incoming.RequestID, Type: apimodel.TypeResult, Success: true})
			go s.replay(writeJSON, done)
		default:
			log.Printf("mockserver: received unknown ws type=%q msg=%s", incoming.Type, string(msg))
		}
	}
}

func (s *server) replay(writeJSON func(any) error, done <-chan struct{}) {
	for _, c := range s.cfg.Track {
		select {
		case <-done:
			return
		case <-time.After(s.cfg.Interval):
		}
		update := apimodel.PositionUpdate{Lat: c.Lat, Lng: c.Lng, Timestamp: time.Now().UnixMilli()}
		if err := writeJSON(envelope(apimodel.TypePositionUpdate, update)); err != nil {
			return
		}
	}

	code := s.cfg.ErrorCode
	if len(s.cfg.Track) == 0 && code == 0 {
		code = PermissionDenied
	}
	if code == 0 {
		return
	}
	select {
	case <-done:
		return
	case <-time.After(s.cfg.Interval):
	}
	writeJSON(envelope(apimodel.TypeError, apimodel.ErrorPayload{Code: code, Message: errorMessage(code)}))
}

func envelope(msgType string, data any) apimodel.Message {
	raw, _ := json.Marshal(data)
	return apimodel.Message{Type: msgType, Data: raw}
}

func errorMessage(code int) string {
	switch code {
	case PermissionDenied:
		return "User denied Geolocation"
	case Timeout:
		return "Timeout expired"
	default:
		return "Position unavailable"
	}
}
