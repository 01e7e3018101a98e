package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/curbz/wayfinder/internal/announce"
	"github.com/curbz/wayfinder/internal/catalog"
	"github.com/curbz/wayfinder/internal/directions"
	"github.com/curbz/wayfinder/internal/mockserver"
	"github.com/curbz/wayfinder/internal/model"
	"github.com/curbz/wayfinder/internal/navigator"
	"github.com/curbz/wayfinder/internal/position"
	"github.com/curbz/wayfinder/pkg/util"
)

type config struct {
	Logging struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	} `yaml:"logging"`
	MockServer struct {
		Enabled    bool     `yaml:"enabled"`
		Port       string   `yaml:"port" validate:"omitempty,numeric"`
		IntervalMS int      `yaml:"interval_ms" validate:"gte=0"`
		ErrorCode  int      `yaml:"error_code" validate:"gte=0,lte=3"`
		Track      []string `yaml:"track"`
	} `yaml:"mockserver"`
}

const locateTimeout = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the configuration file")
	modeName := flag.String("mode", "walking", "travel mode: walking, driving, bicycling or transit")
	category := flag.String("category", catalog.AllCategories, "category to list when no destination is given")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [destination name]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := util.LoadConfig[config](*cfgPath)
	if err != nil {
		log.Fatalf("Error reading configuration file: %v", err)
	}
	configureLogging(cfg)

	cat, err := catalog.LoadFromConfig(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: Could not load location catalog: %v", err)
	}

	destination := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if destination == "" {
		listLocations(cat, *category)
		return
	}

	mode, err := model.ParseTravelMode(*modeName)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	if cfg.MockServer.Enabled {
		port := cfg.MockServer.Port
		if port == "" {
			port = "8787"
		}
		srv := mockserver.Start(port, mockConfig(cfg))
		defer srv.Close()
	}

	if err := run(*cfgPath, cat, destination, mode); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfgPath string, cat *catalog.Catalog, destination string, mode model.TravelMode) error {
	gateway, err := directions.New(cfgPath)
	if err != nil {
		return err
	}
	stream, err := position.New(cfgPath)
	if err != nil {
		return err
	}
	announcer, err := announce.New(cfgPath, nil)
	if err != nil {
		return err
	}
	defer announcer.Close()

	session := navigator.New(cat, gateway, stream, announcer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := session.SelectDestination(destination); err != nil {
		if errors.Is(err, catalog.ErrLookupMiss) {
			return fmt.Errorf("please choose a valid location from the list (run without a destination to see it): %w", err)
		}
		return err
	}

	log.Println("Waiting for a location fix...")
	locCtx, cancel := context.WithTimeout(ctx, locateTimeout)
	_, err = session.Locate(locCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := session.StartDirections(ctx, mode); err != nil {
		return err
	}

	log.Println("Navigating. Press Ctrl+C to end navigation.")
	select {
	case <-session.Finished():
	case <-ctx.Done():
		log.Println("Interrupt received. Ending navigation...")
		session.EndNavigation()
	}
	return nil
}

func configureLogging(cfg *config) {
	if cfg.Logging.Level != "" {
		level, err := log.ParseLevel(cfg.Logging.Level)
		if err == nil {
			log.SetLevel(level)
		}
	}
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func mockConfig(cfg *config) mockserver.Config {
	mc := mockserver.Config{
		Interval:  time.Duration(cfg.MockServer.IntervalMS) * time.Millisecond,
		ErrorCode: cfg.MockServer.ErrorCode,
	}
	for _, p := range cfg.MockServer.Track {
		c, err := model.ParseCoordinate(p)
		if err != nil {
			log.Warnf("Skipping mock track point: %v", err)
			continue
		}
		mc.Track = append(mc.Track, c)
	}
	return mc
}

func listLocations(cat *catalog.Catalog, category string) {
	locations := cat.FilterByCategory(category)
	if len(locations) == 0 {
		fmt.Printf("No locations in category %q. Categories: %s\n", category, strings.Join(cat.Categories(), ", "))
		return
	}
	for _, loc := range locations {
		fmt.Printf("  - %-45s %-10s %s\n", loc.Name, loc.Category, loc.Coordinate())
	}
}
