package models

import "sort"

type Aggregation string

const (
	AggSum  Aggregation = "sum"
	AggMean Aggregation = "mean"
	AggLast Aggregation = "last"
)

type IndicatorSpec struct {
	Code        string      `json:"code" yaml:"code"`
	Label       string      `json:"label" yaml:"label"`
	Unit        string      `json:"unit" yaml:"unit"`
	Aggregation Aggregation `json:"aggregation" yaml:"aggregation"`
	InvertAxis  bool        `json:"invert_axis" yaml:"invert_axis"`
	Description string      `json:"description,omitempty" yaml:"description"`
}

type Country struct {
	Code  string `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
}

type Observation struct {
	Country string    `json:"country"`
	Year    int       `json:"year"`
	Value   NullFloat `json:"value"`
}

// Series is ordered by year ascending with unique years.
type Series []Observation

// At returns the observation recorded for year, if any.
func (s Series) At(year int) (Observation, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Year >= year })
	if i < len(s) && s[i].Year == year {
		return s[i], true
	}
	return Observation{}, false
}

// Window returns the observations with yearStart <= year <= yearEnd.
func (s Series) Window(yearStart, yearEnd int) Series {
	lo := sort.Search(len(s), func(i int) bool { return s[i].Year >= yearStart })
	hi := sort.Search(len(s), func(i int) bool { return s[i].Year > yearEnd })
	if lo >= hi {
		return Series{}
	}
	out := make(Series, hi-lo)
	copy(out, s[lo:hi])
	return out
}

// SeriesSet maps ISO-3 country code to that country's series for one indicator.
type SeriesSet map[string]Series

// Window applies Series.Window to every country and returns a new set.
func (ss SeriesSet) Window(yearStart, yearEnd int) SeriesSet {
	out := make(SeriesSet, len(ss))
	for c, s := range ss {
		out[c] = s.Window(yearStart, yearEnd)
	}
	return out
}

// Merge returns a new set holding the union of ss and other; other wins on
// overlapping countries.
func (ss SeriesSet) Merge(other SeriesSet) SeriesSet {
	out := make(SeriesSet, len(ss)+len(other))
	for c, s := range ss {
		out[c] = s
	}
	for c, s := range other {
		out[c] = s
	}
	return out
}

// Countries returns the set's country codes sorted.
func (ss SeriesSet) Countries() []string {
	out := make([]string, 0, len(ss))
	for c := range ss {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type Point struct {
	Year  int       `json:"year"`
	Value NullFloat `json:"value"`
}

type MetricsStatus string

const (
	StatusOK     MetricsStatus = "ok"
	StatusNoData MetricsStatus = "no_data"
)

type Metrics struct {
	Status       MetricsStatus `json:"status"`
	LatestValue  NullFloat     `json:"latest_value"`
	LatestYear   int           `json:"latest_year,omitempty"`
	YoYChangePct NullFloat     `json:"yoy_change_pct"`
	CAGR5yPct    NullFloat     `json:"cagr_5y_pct"`
	Projection   []Point       `json:"projection"`
	PeerMedian   []Point       `json:"peer_median"`
}

type CountryLatest struct {
	Country string  `json:"country"`
	Label   string  `json:"label"`
	Year    int     `json:"year"`
	Value   float64 `json:"value"`
}

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type ViewState struct {
	Indicator  string   `json:"indicator"`
	YearStart  int      `json:"year_start"`
	YearEnd    int      `json:"year_end"`
	Peers      []string `json:"peers"`
	Theme      Theme    `json:"theme"`
	ShowMedian bool     `json:"show_median"`
}

// Equal reports whether v and o describe the same selection. Peer order is
// significant; nil and empty peer lists are equal.
func (v ViewState) Equal(o ViewState) bool {
	if v.Indicator != o.Indicator || v.YearStart != o.YearStart || v.YearEnd != o.YearEnd ||
		v.Theme != o.Theme || v.ShowMedian != o.ShowMedian || len(v.Peers) != len(o.Peers) {
		return false
	}
	for i := range v.Peers {
		if v.Peers[i] != o.Peers[i] {
			return false
		}
	}
	return true
}

type FailureKind string

const (
	FailureFetch     FailureKind = "fetch"
	FailureDataShape FailureKind = "data_shape"
)

type SeriesFailure struct {
	Country   string      `json:"country"`
	Indicator string      `json:"indicator"`
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
}

// Bundle is the render-ready result of one interaction cycle.
type Bundle struct {
	View      ViewState       `json:"view"`
	Indicator IndicatorSpec   `json:"indicator"`
	Primary   string          `json:"primary"`
	Series    SeriesSet       `json:"series"`
	Metrics   Metrics         `json:"metrics"`
	Latest    []CountryLatest `json:"latest"`
	Forecast  []Point         `json:"forecast,omitempty"`
	Smoothed  SeriesSet       `json:"smoothed,omitempty"`
	Failures  []SeriesFailure `json:"failures"`
	Permalink string          `json:"permalink"`
}
