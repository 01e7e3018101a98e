package directions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/model"
)

// OSRM talks to an OSRM routing engine's route service.
type OSRM struct {
	baseURL    string
	httpClient *http.Client
}

func NewOSRM(baseURL string, client *http.Client) *OSRM {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &OSRM{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

var osrmProfiles = map[model.TravelMode]string{
	model.Driving:   "driving",
	model.Walking:   "foot",
	model.Bicycling: "bike",
}

type osrmManeuver struct {
	Type     string    `json:"type"`
	Modifier string    `json:"modifier"`
	Location []float64 `json:"location"` // lon, lat
}

type osrmStep struct {
	Name     string       `json:"name"`
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Legs     []struct {
			Summary string     `json:"summary"`
			Steps   []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

func (o *OSRM) RequestRoute(ctx context.Context, origin, destination model.Coordinate, mode model.TravelMode) (model.Route, error) {
	profile, ok := osrmProfiles[mode]
	if !ok {
		return model.Route{}, notFound(fmt.Errorf("travel mode %s is not supported by OSRM", mode))
	}

	fullURL := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=false&steps=true",
		o.baseURL, profile, origin.Lng, origin.Lat, destination.Lng, destination.Lat)
	log.Printf("Querying OSRM: %s", fullURL)

	var response osrmResponse
	if err := getJSON(ctx, o.httpClient, fullURL, &response); err != nil {
		return model.Route{}, notFound(err)
	}
	if response.Code != "Ok" {
		return model.Route{}, notFound(fmt.Errorf("provider answered %s: %s", response.Code, response.Message))
	}
	if len(response.Routes) == 0 || len(response.Routes[0].Legs) == 0 || len(response.Routes[0].Legs[0].Steps) == 0 {
		return model.Route{}, notFound(errors.New("provider returned no steps"))
	}

	r := response.Routes[0]
	steps := r.Legs[0].Steps
	legDistance := FormatDistance(r.Distance)
	legDuration := FormatDuration(r.Duration)

	// a maneuver location is where a step starts, so a step ends at the next maneuver
	route := model.Route{Summary: r.Legs[0].Summary}
	for i, s := range steps {
		if s.Maneuver.Type == "arrive" && i > 0 {
			continue
		}
		endManeuver := s.Maneuver
		if i+1 < len(steps) {
			endManeuver = steps[i+1].Maneuver
		}
		if len(endManeuver.Location) < 2 {
			return model.Route{}, notFound(fmt.Errorf("step %d has no maneuver location", i))
		}
		route.Steps = append(route.Steps, model.RouteStep{
			End:          model.Coordinate{Lat: endManeuver.Location[1], Lng: endManeuver.Location[0]},
			Instruction:  osrmInstruction(s),
			LegDistance:  legDistance,
			LegDuration:  legDuration,
			StepDistance: FormatDistance(s.Distance),
			StepDuration: FormatDuration(s.Duration),
		})
	}

	log.Printf("Received route with %d steps (%s, %s)", route.Len(), legDistance, legDuration)
	return route, nil
}

// osrmInstruction builds a short English instruction from a maneuver.
func osrmInstruction(s osrmStep) string {
	onto := ""
	if s.Name != "" {
		onto = " onto " + s.Name
	}
	switch s.Maneuver.Type {
	case "depart":
		if s.Name != "" {
			return "Head out on " + s.Name
		}
		return "Head out"
	case "arrive":
		return "You have arrived at your destination."
	case "turn", "end of road", "fork":
		if s.Maneuver.Modifier == "straight" {
			return "Continue straight" + onto
		}
		return "Turn " + s.Maneuver.Modifier + onto
	case "continue", "new name":
		return strings.TrimSpace("Continue "+s.Maneuver.Modifier) + onto
	case "roundabout", "rotary":
		return "Enter the roundabout and exit" + onto
	default:
		text := strings.TrimSpace(strings.ReplaceAll(s.Maneuver.Type, "_", " ") + " " + s.Maneuver.Modifier)
		if text == "" {
			text = "continue"
		}
		return strings.ToUpper(text[:1]) + text[1:] + onto
	}
}
