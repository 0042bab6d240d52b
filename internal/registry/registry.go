// Package registry holds the static catalogue of indicators, countries and
// peer presets. It is loaded once at process start and never mutated.
package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"macrodash/internal/models"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var embedded []byte

var (
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrUnknownCountry   = errors.New("unknown country")
)

type Preset struct {
	Name    string   `json:"name" yaml:"name"`
	Members []string `json:"members" yaml:"members"`
}

type document struct {
	Primary    string                 `yaml:"primary"`
	Indicators []models.IndicatorSpec `yaml:"indicators"`
	Countries  []models.Country       `yaml:"countries"`
	Presets    []Preset               `yaml:"presets"`
}

type Registry struct {
	primary    string
	indicators []models.IndicatorSpec
	byCode     map[string]int
	countries  []models.Country
	byCountry  map[string]int
	presets    []Preset
	byPreset   map[string]int
}

// Default returns the registry compiled into the binary. The embedded file
// is covered by tests, so a failure here is a build defect.
func Default() *Registry {
	r, err := Parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded catalogue is invalid: %v", err))
	}
	return r
}

func Load(rd io.Reader) (*Registry, error) {
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a registry document. Unknown fields, duplicate
// codes, unknown aggregations and dangling preset members are rejected.
func Parse(b []byte) (*Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return build(doc)
}

func build(doc document) (*Registry, error) {
	r := &Registry{
		primary:   strings.ToUpper(strings.TrimSpace(doc.Primary)),
		byCode:    make(map[string]int),
		byCountry: make(map[string]int),
		byPreset:  make(map[string]int),
	}
	if len(doc.Indicators) == 0 {
		return nil, errors.New("registry: no indicators defined")
	}
	for i, ind := range doc.Indicators {
		if ind.Code == "" || ind.Label == "" {
			return nil, fmt.Errorf("registry: indicator %d: code and label are required", i)
		}
		switch ind.Aggregation {
		case models.AggSum, models.AggMean, models.AggLast:
		default:
			return nil, fmt.Errorf("registry: indicator %s: unknown aggregation %q", ind.Code, ind.Aggregation)
		}
		if _, dup := r.byCode[ind.Code]; dup {
			return nil, fmt.Errorf("registry: duplicate indicator %s", ind.Code)
		}
		r.byCode[ind.Code] = len(r.indicators)
		r.indicators = append(r.indicators, ind)
	}
	for _, c := range doc.Countries {
		code := strings.ToUpper(c.Code)
		if len(code) != 3 {
			return nil, fmt.Errorf("registry: country %q is not an ISO-3 code", c.Code)
		}
		if _, dup := r.byCountry[code]; dup {
			return nil, fmt.Errorf("registry: duplicate country %s", code)
		}
		r.byCountry[code] = len(r.countries)
		r.countries = append(r.countries, models.Country{Code: code, Label: c.Label})
	}
	if _, ok := r.byCountry[r.primary]; !ok {
		return nil, fmt.Errorf("registry: primary %q: %w", doc.Primary, ErrUnknownCountry)
	}
	for _, p := range doc.Presets {
		if p.Name == "" {
			return nil, errors.New("registry: preset without a name")
		}
		if _, dup := r.byPreset[p.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate preset %s", p.Name)
		}
		for _, m := range p.Members {
			if _, ok := r.byCountry[m]; !ok {
				return nil, fmt.Errorf("registry: preset %s member %q: %w", p.Name, m, ErrUnknownCountry)
			}
		}
		r.byPreset[p.Name] = len(r.presets)
		r.presets = append(r.presets, p)
	}
	return r, nil
}

// WithPrimary returns a copy of r using code as the primary country.
func (r *Registry) WithPrimary(code string) (*Registry, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := r.byCountry[code]; !ok {
		return nil, fmt.Errorf("primary %q: %w", code, ErrUnknownCountry)
	}
	cp := *r
	cp.primary = code
	return &cp, nil
}

func (r *Registry) Primary() string { return r.primary }

func (r *Registry) Indicators() []models.IndicatorSpec {
	out := make([]models.IndicatorSpec, len(r.indicators))
	copy(out, r.indicators)
	return out
}

// DefaultIndicator is the first indicator in catalogue order.
func (r *Registry) DefaultIndicator() models.IndicatorSpec { return r.indicators[0] }

func (r *Registry) Indicator(code string) (models.IndicatorSpec, error) {
	i, ok := r.byCode[code]
	if !ok {
		return models.IndicatorSpec{}, fmt.Errorf("%w: %q", ErrUnknownIndicator, code)
	}
	return r.indicators[i], nil
}

func (r *Registry) Countries() []models.Country {
	out := make([]models.Country, len(r.countries))
	copy(out, r.countries)
	return out
}

func (r *Registry) IsCountry(code string) bool {
	_, ok := r.byCountry[code]
	return ok
}

// IsPeer reports whether code may appear in a peer list: any known country
// other than the primary.
func (r *Registry) IsPeer(code string) bool {
	return code != r.primary && r.IsCountry(code)
}

// CountryLabel returns the display name for code, or code itself.
func (r *Registry) CountryLabel(code string) string {
	if i, ok := r.byCountry[code]; ok {
		return r.countries[i].Label
	}
	return code
}

func (r *Registry) Presets() []Preset {
	out := make([]Preset, len(r.presets))
	copy(out, r.presets)
	return out
}

func (r *Registry) Preset(name string) ([]string, bool) {
	i, ok := r.byPreset[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), r.presets[i].Members...), true
}
