// Package viewstate converts a dashboard selection to and from the flat
// parameter set used in permalinks.
//
// Decode is lenient: anything malformed falls back to a default and is never
// reported as an error. Encode is total. For every valid selection v,
// Decode(Encode(v)) equals v.
package viewstate

import (
	"macrodash/internal/models"
	"macrodash/internal/registry"
	"net/url"
	"strconv"
	"strings"
)

// Permalink keys.
const (
	KeyIndicator = "ind"
	KeyYearStart = "yr1"
	KeyYearEnd   = "yr2"
	KeyPeers     = "peers"
	KeyTheme     = "theme"
	KeyMedian    = "median"

	// KeyPreset is read on decode only; it expands into peers.
	KeyPreset = "preset"
)

const (
	MinYear          = 1960
	DefaultYearStart = 2000
)

// Params is a flat permalink parameter set.
type Params map[string]string

// FromQuery keeps the first value of every key.
func FromQuery(q url.Values) Params {
	p := make(Params, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			p[k] = vs[0]
		}
	}
	return p
}

// Query renders p as a URL query string with keys in sorted order.
func (p Params) Query() string {
	q := make(url.Values, len(p))
	for k, v := range p {
		q.Set(k, v)
	}
	return q.Encode()
}

type Codec struct {
	reg      *registry.Registry
	minYear  int
	maxYear  int
	defaults models.ViewState
}

// New builds a codec whose year range ends at maxYear, normally the current
// calendar year.
func New(reg *registry.Registry, maxYear int) *Codec {
	if maxYear < MinYear {
		maxYear = MinYear
	}
	start := DefaultYearStart
	if start > maxYear {
		start = MinYear
	}
	return &Codec{
		reg:     reg,
		minYear: MinYear,
		maxYear: maxYear,
		defaults: models.ViewState{
			Indicator:  reg.DefaultIndicator().Code,
			YearStart:  start,
			YearEnd:    maxYear,
			Theme:      models.ThemeLight,
			ShowMedian: true,
		},
	}
}

// Default is the reset-to-default selection.
func (c *Codec) Default() models.ViewState { return c.defaults }

func (c *Codec) YearBounds() (int, int) { return c.minYear, c.maxYear }

func (c *Codec) Decode(p Params) models.ViewState {
	v := c.defaults

	if code, ok := p[KeyIndicator]; ok {
		if _, err := c.reg.Indicator(code); err == nil {
			v.Indicator = code
		}
	}

	v.YearStart, v.YearEnd = c.decodeYears(p)

	var raw []string
	if name, ok := p[KeyPreset]; ok {
		if members, ok := c.reg.Preset(name); ok {
			raw = append(raw, members...)
		}
	}
	if s, ok := p[KeyPeers]; ok {
		raw = append(raw, strings.Split(s, ",")...)
	}
	v.Peers = c.cleanPeers(raw)

	switch p[KeyTheme] {
	case "light", "Light":
		v.Theme = models.ThemeLight
	case "dark", "Dark":
		v.Theme = models.ThemeDark
	}

	switch p[KeyMedian] {
	case "1", "true":
		v.ShowMedian = true
	case "0", "false":
		v.ShowMedian = false
	}
	return v
}

// decodeYears returns the requested range, or the default range when
// either bound is malformed or the bounds are inverted. It never repairs
// one side only.
func (c *Codec) decodeYears(p Params) (int, int) {
	start, end := c.defaults.YearStart, c.defaults.YearEnd
	if s, ok := p[KeyYearStart]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return c.defaults.YearStart, c.defaults.YearEnd
		}
		start = c.clampYear(n)
	}
	if s, ok := p[KeyYearEnd]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return c.defaults.YearStart, c.defaults.YearEnd
		}
		end = c.clampYear(n)
	}
	if start > end {
		return c.defaults.YearStart, c.defaults.YearEnd
	}
	return start, end
}

func (c *Codec) clampYear(y int) int {
	if y < c.minYear {
		return c.minYear
	}
	if y > c.maxYear {
		return c.maxYear
	}
	return y
}

// cleanPeers keeps known peer codes, first occurrence wins.
func (c *Codec) cleanPeers(raw []string) []string {
	var out []string
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		code := strings.ToUpper(strings.TrimSpace(s))
		if code == "" || seen[code] || !c.reg.IsPeer(code) {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

// Clamp forces v into a valid selection using the same fallbacks as Decode.
func (c *Codec) Clamp(v models.ViewState) models.ViewState {
	if _, err := c.reg.Indicator(v.Indicator); err != nil {
		v.Indicator = c.defaults.Indicator
	}
	v.YearStart, v.YearEnd = c.clampYear(v.YearStart), c.clampYear(v.YearEnd)
	if v.YearStart > v.YearEnd {
		v.YearStart, v.YearEnd = c.defaults.YearStart, c.defaults.YearEnd
	}
	v.Peers = c.cleanPeers(v.Peers)
	if v.Theme != models.ThemeLight && v.Theme != models.ThemeDark {
		v.Theme = c.defaults.Theme
	}
	return v
}

func (c *Codec) Encode(v models.ViewState) Params {
	v = c.Clamp(v)
	p := Params{
		KeyIndicator: v.Indicator,
		KeyYearStart: strconv.Itoa(v.YearStart),
		KeyYearEnd:   strconv.Itoa(v.YearEnd),
		KeyTheme:     string(v.Theme),
		KeyMedian:    "0",
	}
	if v.ShowMedian {
		p[KeyMedian] = "1"
	}
	if len(v.Peers) > 0 {
		p[KeyPeers] = strings.Join(v.Peers, ",")
	}
	return p
}
