package engine

import (
	"macrodash/internal/models"
	"math"
	"sort"
)

// CAGRSpan is the look-back of the headline growth rate, in years.
const CAGRSpan = 5

// Compute derives the headline metrics for primary over [yearStart, yearEnd].
// Every figure that cannot be computed is reported absent, never zero.
func Compute(set models.SeriesSet, primary string, peers []string, yearStart, yearEnd int) models.Metrics {
	if yearStart > yearEnd {
		yearStart, yearEnd = yearEnd, yearStart
	}
	m := models.Metrics{
		Status:     models.StatusNoData,
		PeerMedian: PeerMedian(set, primary, peers, yearStart, yearEnd),
	}

	series := set[primary].Window(yearStart, yearEnd)
	latest, ok := Latest(series)
	if !ok {
		return m
	}
	m.Status = models.StatusOK
	m.LatestValue = latest.Value
	m.LatestYear = latest.Year
	m.YoYChangePct = YoY(series, latest)
	m.CAGR5yPct = CAGR(series, latest, yearStart, CAGRSpan)
	if m.CAGR5yPct.Valid {
		m.Projection = Project(latest.Year, latest.Value.Value, m.CAGR5yPct.Value, yearEnd)
	}
	return m
}

// Latest returns the last observation with a present value.
func Latest(s models.Series) (models.Observation, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Value.Valid {
			return s[i], true
		}
	}
	return models.Observation{}, false
}

// YoY is the percent change from the year immediately before latest. A gap
// in that year makes it unavailable; it never reaches further back.
func YoY(s models.Series, latest models.Observation) models.NullFloat {
	prev, ok := s.At(latest.Year - 1)
	if !ok || !prev.Value.Valid || prev.Value.Value == 0 {
		return models.None
	}
	return models.Finite((latest.Value.Value - prev.Value.Value) / prev.Value.Value * 100)
}

// CAGR is the compound annual growth rate, in percent, from the year
// max(yearStart, latest.Year-span) to latest. The start year must carry a
// positive present value.
func CAGR(s models.Series, latest models.Observation, yearStart, span int) models.NullFloat {
	startYear := latest.Year - span
	if yearStart > startYear {
		startYear = yearStart
	}
	n := latest.Year - startYear
	if n <= 0 || !latest.Value.Valid {
		return models.None
	}
	start, ok := s.At(startYear)
	if !ok || !start.Value.Valid || start.Value.Value <= 0 {
		return models.None
	}
	return models.Finite((math.Pow(latest.Value.Value/start.Value.Value, 1/float64(n)) - 1) * 100)
}

// Project compounds latestValue at cagrPct per year for every year after
// latestYear up to and including through.
func Project(latestYear int, latestValue, cagrPct float64, through int) []models.Point {
	if through <= latestYear {
		return nil
	}
	out := make([]models.Point, 0, through-latestYear)
	for y := latestYear + 1; y <= through; y++ {
		v := latestValue * math.Pow(1+cagrPct/100, float64(y-latestYear))
		out = append(out, models.Point{Year: y, Value: models.Finite(v)})
	}
	return out
}

// Forecast projects horizon years past the latest observation regardless of
// the selected range.
func Forecast(m models.Metrics, horizon int) []models.Point {
	if m.Status != models.StatusOK || !m.CAGR5yPct.Valid || horizon <= 0 {
		return nil
	}
	return Project(m.LatestYear, m.LatestValue.Value, m.CAGR5yPct.Value, m.LatestYear+horizon)
}

// PeerMedian returns, for every year in range, the median of the peers'
// present values. Years where no peer reports are absent. The primary and
// repeated peers are ignored; with no peers the result is nil.
func PeerMedian(set models.SeriesSet, primary string, peers []string, yearStart, yearEnd int) []models.Point {
	seen := make(map[string]bool, len(peers))
	var group []models.Series
	for _, p := range peers {
		if p == primary || seen[p] {
			continue
		}
		seen[p] = true
		group = append(group, set[p])
	}
	if len(group) == 0 {
		return nil
	}

	out := make([]models.Point, 0, yearEnd-yearStart+1)
	vals := make([]float64, 0, len(group))
	for y := yearStart; y <= yearEnd; y++ {
		vals = vals[:0]
		for _, s := range group {
			if o, ok := s.At(y); ok && o.Value.Valid {
				vals = append(vals, o.Value.Value)
			}
		}
		out = append(out, models.Point{Year: y, Value: median(vals)})
	}
	return out
}

func median(vals []float64) models.NullFloat {
	n := len(vals)
	if n == 0 {
		return models.None
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return models.Some(sorted[n/2])
	}
	return models.Some((sorted[n/2-1] + sorted[n/2]) / 2)
}

// LatestByCountry returns each country's last present value in range,
// highest first. label may be nil.
func LatestByCountry(set models.SeriesSet, label func(string) string, yearStart, yearEnd int) []models.CountryLatest {
	out := make([]models.CountryLatest, 0, len(set))
	for _, c := range set.Countries() {
		o, ok := Latest(set[c].Window(yearStart, yearEnd))
		if !ok {
			continue
		}
		name := c
		if label != nil {
			name = label(c)
		}
		out = append(out, models.CountryLatest{Country: c, Label: name, Year: o.Year, Value: o.Value.Value})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// MovingAverage smooths s with a trailing mean over the last window years,
// counting only present values. A year with nothing to average is absent.
func MovingAverage(s models.Series, window int) models.Series {
	if window < 1 {
		window = 1
	}
	out := make(models.Series, len(s))
	for i, o := range s {
		var sum float64
		var n int
		for j := i; j >= 0 && s[j].Year > o.Year-window; j-- {
			if s[j].Value.Valid {
				sum += s[j].Value.Value
				n++
			}
		}
		out[i] = models.Observation{Country: o.Country, Year: o.Year, Value: models.None}
		if n > 0 {
			out[i].Value = models.Some(sum / float64(n))
		}
	}
	return out
}

// Smooth applies MovingAverage to every series in set.
func Smooth(set models.SeriesSet, window int) models.SeriesSet {
	out := make(models.SeriesSet, len(set))
	for c, s := range set {
		out[c] = MovingAverage(s, window)
	}
	return out
}
