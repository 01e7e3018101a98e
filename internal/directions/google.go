package directions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/model"
)

// Google talks to the Google Directions web service (or anything that answers
// in its JSON shape, such as the mock server).
type Google struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewGoogle(baseURL, apiKey string, client *http.Client) *Google {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Google{baseURL: baseURL, apiKey: apiKey, httpClient: client}
}

type googleText struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type googleStep struct {
	HTMLInstructions string       `json:"html_instructions"`
	Distance         googleText   `json:"distance"`
	Duration         googleText   `json:"duration"`
	StartLocation    googleLatLng `json:"start_location"`
	EndLocation      googleLatLng `json:"end_location"`
	TravelMode       string       `json:"travel_mode"`
}

type googleLeg struct {
	Distance googleText   `json:"distance"`
	Duration googleText   `json:"duration"`
	Steps    []googleStep `json:"steps"`
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		Summary string      `json:"summary"`
		Legs    []googleLeg `json:"legs"`
	} `json:"routes"`
}

// buildURL constructs the request URL. The key is optional so the mock server can be used without one.
func (g *Google) buildURL(origin, destination model.Coordinate, mode model.TravelMode) (string, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return "", fmt.Errorf("error parsing base URL: %w", err)
	}
	q := u.Query()
	q.Set("origin", origin.String())
	q.Set("destination", destination.String())
	q.Set("mode", strings.ToLower(mode.String()))
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *Google) RequestRoute(ctx context.Context, origin, destination model.Coordinate, mode model.TravelMode) (model.Route, error) {
	fullURL, err := g.buildURL(origin, destination, mode)
	if err != nil {
		return model.Route{}, notFound(err)
	}
	log.Printf("Requesting %s directions from %s to %s", mode, origin, destination)

	var response googleResponse
	if err := getJSON(ctx, g.httpClient, fullURL, &response); err != nil {
		return model.Route{}, notFound(err)
	}

	if response.Status != "OK" {
		msg := response.Status
		if response.ErrorMessage != "" {
			msg = fmt.Sprintf("%s (%s)", response.Status, response.ErrorMessage)
		}
		return model.Route{}, notFound(fmt.Errorf("provider answered %s", msg))
	}
	if len(response.Routes) == 0 || len(response.Routes[0].Legs) == 0 || len(response.Routes[0].Legs[0].Steps) == 0 {
		return model.Route{}, notFound(errors.New("provider returned no steps"))
	}

	leg := response.Routes[0].Legs[0]
	route := model.Route{
		Summary: response.Routes[0].Summary,
		Steps:   make([]model.RouteStep, 0, len(leg.Steps)),
	}
	for _, s := range leg.Steps {
		route.Steps = append(route.Steps, model.RouteStep{
			End:          model.Coordinate{Lat: s.EndLocation.Lat, Lng: s.EndLocation.Lng},
			Instruction:  s.HTMLInstructions,
			LegDistance:  leg.Distance.Text,
			LegDuration:  leg.Duration.Text,
			StepDistance: s.Distance.Text,
			StepDuration: s.Duration.Text,
		})
	}

	log.Printf("Received route with %d steps (%s, %s)", route.Len(), leg.Distance.Text, leg.Duration.Text)
	return route, nil
}
