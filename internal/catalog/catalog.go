// Package catalog holds the curated list of campus destinations. It is loaded
// once at startup and is read-only afterwards, so concurrent readers need no locking.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"

	"github.com/curbz/wayfinder/internal/model"
	"github.com/curbz/wayfinder/pkg/util"
)

// AllCategories selects every location in FilterByCategory.
const AllCategories = "all"

var ErrLookupMiss = errors.New("location not found in catalog")

type Catalog struct {
	locations []model.Location
	byName    map[string]int
}

type config struct {
	Catalog struct {
		Source string `yaml:"source" validate:"required"`
	} `yaml:"catalog"`
}

// LoadFromConfig loads the catalog named by the catalog section of the config file.
func LoadFromConfig(cfgPath string) (*Catalog, error) {
	cfg, err := util.LoadConfig[config](cfgPath)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog configuration: %w", err)
	}
	return Load(cfg.Catalog.Source)
}

// Load reads the catalog from a file path or http(s) URL. Sources ending in
// .geojson are read as a FeatureCollection of points, anything else as a JSON
// array of {name, category, lat, lng} records.
func Load(source string) (*Catalog, error) {
	data, err := fetch(source)
	if err != nil {
		return nil, err
	}

	var locations []model.Location
	if strings.EqualFold(path.Ext(strings.SplitN(source, "?", 2)[0]), ".geojson") {
		locations, err = parseGeoJSON(data)
	} else {
		err = json.Unmarshal(data, &locations)
	}
	if err != nil {
		return nil, fmt.Errorf("error decoding catalog %s: %w", source, err)
	}

	c, err := New(locations)
	if err != nil {
		return nil, fmt.Errorf("error loading catalog %s: %w", source, err)
	}
	log.Printf("Catalog loaded successfully from %s (%d locations)", source, c.Len())
	return c, nil
}

// New builds a catalog from already decoded locations, validating each one.
func New(locations []model.Location) (*Catalog, error) {
	c := &Catalog{
		locations: make([]model.Location, 0, len(locations)),
		byName:    make(map[string]int, len(locations)),
	}
	for i, loc := range locations {
		loc.Name = strings.TrimSpace(loc.Name)
		loc.Category = strings.TrimSpace(loc.Category)
		if err := util.Validate(loc); err != nil {
			return nil, fmt.Errorf("record %d (%q): %w", i, loc.Name, err)
		}
		key := c.key(loc.Name)
		if _, dup := c.byName[key]; dup {
			log.Warnf("Duplicate catalog entry %q ignored", loc.Name)
			continue
		}
		c.byName[key] = len(c.locations)
		c.locations = append(c.locations, loc)
	}
	return c, nil
}

// key folds case the Unicode way, so "ÉTOILE" and "étoile" share a key.
func (c *Catalog) key(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// FindByName matches the whole name, ignoring case and surrounding spaces.
func (c *Catalog) FindByName(name string) (model.Location, error) {
	idx, ok := c.byName[c.key(name)]
	if !ok {
		return model.Location{}, fmt.Errorf("%w: %q", ErrLookupMiss, strings.TrimSpace(name))
	}
	return c.locations[idx], nil
}

// FilterByCategory returns the locations of one category in catalog order;
// AllCategories or an empty string returns everything.
func (c *Catalog) FilterByCategory(category string) []model.Location {
	if category == "" || category == AllCategories {
		out := make([]model.Location, len(c.locations))
		copy(out, c.locations)
		return out
	}
	var out []model.Location
	for _, loc := range c.locations {
		if loc.Category == category {
			out = append(out, loc)
		}
	}
	return out
}

// Categories lists distinct categories in first-seen order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, loc := range c.locations {
		if loc.Category == "" || seen[loc.Category] {
			continue
		}
		seen[loc.Category] = true
		out = append(out, loc.Category)
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.locations)
}

func fetch(source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("could not read catalog %s: %w", source, err)
		}
		return data, nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(source)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", source, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, source)
	}
	return io.ReadAll(resp.Body)
}

func parseGeoJSON(data []byte) ([]model.Location, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}

	locations := make([]model.Location, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			return nil, fmt.Errorf("feature %d has no geometry", i)
		}
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d is a %s, only points are supported", i, f.Geometry.GeoJSONType())
		}
		locations = append(locations, model.Location{
			Name:     f.Properties.MustString("name", ""),
			Category: f.Properties.MustString("category", ""),
			Lat:      pt.Lat(),
			Lng:      pt.Lon(),
		})
	}
	return locations, nil
}
