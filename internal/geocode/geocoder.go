package geocode

import (
	"fmt"
	"math/rand"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"fieldroute/internal/model"
)

// Geocoder resolves a free-text address to an approximate coordinate.
// The zip-table implementation below is a placeholder; a real provider
// (Census, Google, ORS) slots in behind this interface without touching
// the optimizer.
type Geocoder interface {
	Geocode(address string) model.GeoPoint
}

var zipRe = regexp.MustCompile(`\b\d{5}\b`)

// defaultZipTable covers the Huntsville, AL service area. Coordinates are
// approximate zip centroids.
var defaultZipTable = map[string]model.GeoPoint{
	"35801": {Lat: 34.7304, Lng: -86.5861},
	"35802": {Lat: 34.6773, Lng: -86.5553},
	"35803": {Lat: 34.6316, Lng: -86.5433},
	"35805": {Lat: 34.7120, Lng: -86.6203},
	"35806": {Lat: 34.7579, Lng: -86.6880},
	"35810": {Lat: 34.7870, Lng: -86.6051},
	"35811": {Lat: 34.7897, Lng: -86.5325},
	"35816": {Lat: 34.7394, Lng: -86.6310},
	"35824": {Lat: 34.6431, Lng: -86.7533},
	"35758": {Lat: 34.7120, Lng: -86.7483}, // Madison
	"35763": {Lat: 34.6206, Lng: -86.4534}, // Owens Cross Roads
	"35749": {Lat: 34.8246, Lng: -86.7575}, // Harvest
}

// Fallback is the home-city center returned when no zip matches.
var Fallback = model.GeoPoint{Lat: 34.7304, Lng: -86.5861}

// ZipGeocoder maps the first 5-digit zip found in an address to a table
// coordinate, plus a small pseudo-random offset so co-located stops don't
// render on top of each other. Unknown or missing zips fall back to the
// home-city center rather than failing.
type ZipGeocoder struct {
	table    map[string]model.GeoPoint
	fallback model.GeoPoint
	jitter   float64
	rnd      *rand.Rand
}

// Option configures a ZipGeocoder.
type Option func(*ZipGeocoder)

// WithRand injects the randomness source. Tests pass a seeded rand or use
// WithJitter(0) to make results reproducible.
func WithRand(r *rand.Rand) Option { return func(g *ZipGeocoder) { g.rnd = r } }

// WithJitter sets the maximum absolute offset per axis in degrees.
func WithJitter(deg float64) Option { return func(g *ZipGeocoder) { g.jitter = deg } }

// WithTable replaces the compiled-in zip table.
func WithTable(t map[string]model.GeoPoint) Option {
	return func(g *ZipGeocoder) {
		if len(t) > 0 {
			g.table = t
		}
	}
}

// WithFallback overrides the no-match coordinate.
func WithFallback(p model.GeoPoint) Option { return func(g *ZipGeocoder) { g.fallback = p } }

func NewZipGeocoder(opts ...Option) *ZipGeocoder {
	g := &ZipGeocoder{
		table:    defaultZipTable,
		fallback: Fallback,
		jitter:   0.01,
		rnd:      rand.New(rand.NewSource(rand.Int63())),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Geocode extracts the first 5-digit zip substring and looks it up.
func (g *ZipGeocoder) Geocode(address string) model.GeoPoint {
	zip := zipRe.FindString(address)
	if zip == "" {
		return g.fallback
	}
	base, ok := g.table[zip]
	if !ok {
		return g.fallback
	}
	if g.jitter <= 0 {
		return base
	}
	return model.GeoPoint{
		Lat: base.Lat + (g.rnd.Float64()*2-1)*g.jitter,
		Lng: base.Lng + (g.rnd.Float64()*2-1)*g.jitter,
	}
}

type zipFile struct {
	Fallback *model.GeoPoint             `yaml:"fallback"`
	Zips     map[string]struct {
		Lat float64 `yaml:"lat"`
		Lng float64 `yaml:"lng"`
	} `yaml:"zips"`
}

// LoadZipTable reads a zip table YAML file:
//
//	fallback: {lat: 34.73, lng: -86.58}
//	zips:
//	  "35801": {lat: 34.7304, lng: -86.5861}
func LoadZipTable(path string) (map[string]model.GeoPoint, *model.GeoPoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read zip table %s: %w", path, err)
	}
	var f zipFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("parse zip table %s: %w", path, err)
	}
	out := make(map[string]model.GeoPoint, len(f.Zips))
	for z, p := range f.Zips {
		out[z] = model.GeoPoint{Lat: p.Lat, Lng: p.Lng}
	}
	return out, f.Fallback, nil
}
