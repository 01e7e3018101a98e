// Package directions obtains turn-by-turn routes from a third-party routing
// provider. The provider's own status codes never leave this package: every
// failure is reported as an error wrapping ErrRouteNotFound.
package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/model"
	"github.com/curbz/wayfinder/pkg/util"
)

var ErrRouteNotFound = errors.New("route not found")

// Gateway returns an ordered list of steps from origin to destination.
type Gateway interface {
	RequestRoute(ctx context.Context, origin, destination model.Coordinate, mode model.TravelMode) (model.Route, error)
}

type config struct {
	Directions struct {
		Provider       string `yaml:"provider" validate:"omitempty,oneof=google osrm"`
		TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gte=0"`
		Google         struct {
			BaseURL string `yaml:"base_url" validate:"omitempty,url"`
			APIKey  string `yaml:"api_key"`
		} `yaml:"google"`
		OSRM struct {
			BaseURL string `yaml:"base_url" validate:"omitempty,url"`
		} `yaml:"osrm"`
	} `yaml:"directions"`
}

const (
	defaultGoogleBaseURL = "https://maps.googleapis.com/maps/api/directions/json"
	defaultOSRMBaseURL   = "https://router.project-osrm.org"
	defaultTimeout       = 10 * time.Second
)

// New builds the gateway selected by the directions section of the config file.
func New(cfgPath string) (Gateway, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, fmt.Errorf("error reading directions configuration: %w", err)
	}
	dc := cfg.Directions

	timeout := defaultTimeout
	if dc.TimeoutSeconds > 0 {
		timeout = time.Duration(dc.TimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch dc.Provider {
	case "osrm":
		baseURL := dc.OSRM.BaseURL
		if baseURL == "" {
			baseURL = defaultOSRMBaseURL
		}
		log.Printf("Using OSRM directions provider at %s", baseURL)
		return NewOSRM(baseURL, client), nil
	default:
		baseURL := dc.Google.BaseURL
		if baseURL == "" {
			baseURL = defaultGoogleBaseURL
		}
		log.Printf("Using Google directions provider at %s", baseURL)
		return NewGoogle(baseURL, dc.Google.APIKey, client), nil
	}
}

// getJSON performs the GET and decodes a JSON body into out.
func getJSON(ctx context.Context, client *http.Client, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error performing HTTP GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read body for a detailed provider error message
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("received non-OK status code %d from directions provider. Response: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response body: %w", err)
	}
	return nil
}

func notFound(err error) error {
	return fmt.Errorf("%w: %w", ErrRouteNotFound, err)
}

// FormatDistance renders metres the way the providers' text fields do.
func FormatDistance(metres float64) string {
	if metres < 1000 {
		return fmt.Sprintf("%d m", int(metres+0.5))
	}
	return fmt.Sprintf("%.1f km", metres/1000)
}

// FormatDuration renders seconds as whole minutes, "1 min" minimum.
func FormatDuration(seconds float64) string {
	mins := int(seconds/60 + 0.5)
	if mins <= 1 {
		return "1 min"
	}
	if mins < 60 {
		return fmt.Sprintf("%d mins", mins)
	}
	hours := mins / 60
	mins = mins % 60
	hourText := "hour"
	if hours > 1 {
		hourText = "hours"
	}
	if mins == 0 {
		return fmt.Sprintf("%d %s", hours, hourText)
	}
	return fmt.Sprintf("%d %s %d mins", hours, hourText, mins)
}
