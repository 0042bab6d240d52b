package engine

import (
	"macrodash/internal/models"
	"math"
	"testing"
)

func series(country string, pts map[int]*float64) models.Series {
	var s models.Series
	for y := 1960; y <= 2030; y++ {
		v, ok := pts[y]
		if !ok {
			continue
		}
		o := models.Observation{Country: country, Year: y}
		if v != nil {
			o.Value = models.Some(*v)
		}
		s = append(s, o)
	}
	return s
}

func f(v float64) *float64 { return &v }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCompute(t *testing.T) {
	// 1. Setup Mock Data
	// IND grows 100 -> 161.051 over 2015..2020 (10% a year)
	set := models.SeriesSet{
		"IND": series("IND", map[int]*float64{
			2015: f(100), 2016: f(110), 2017: f(121), 2018: f(133.1), 2019: f(146.41), 2020: f(161.051),
		}),
		"CHN": series("CHN", map[int]*float64{2019: f(10), 2020: f(30)}),
		"USA": series("USA", map[int]*float64{2019: f(20), 2020: nil}),
	}

	// 2. Run Compute
	m := Compute(set, "IND", []string{"CHN", "USA"}, 2010, 2022)

	// 3. Assertions
	if m.Status != models.StatusOK {
		t.Fatalf("Expected ok status, got %s", m.Status)
	}
	if m.LatestYear != 2020 || !near(m.LatestValue.Value, 161.051) {
		t.Errorf("Latest: expected 161.051 in 2020, got %v in %d", m.LatestValue, m.LatestYear)
	}
	if !m.YoYChangePct.Valid || !near(m.YoYChangePct.Value, 10) {
		t.Errorf("YoY: expected 10%%, got %+v", m.YoYChangePct)
	}
	if !m.CAGR5yPct.Valid || !near(m.CAGR5yPct.Value, 10) {
		t.Errorf("CAGR: expected 10%%, got %+v", m.CAGR5yPct)
	}

	// Projection 2021, 2022 at 10%
	if len(m.Projection) != 2 {
		t.Fatalf("Expected 2 projected years, got %d", len(m.Projection))
	}
	if m.Projection[0].Year != 2021 || !near(m.Projection[0].Value.Value, 177.1561) {
		t.Errorf("Projection 2021 incorrect: %+v", m.Projection[0])
	}
	if !near(m.Projection[1].Value.Value, 194.87171) {
		t.Errorf("Projection 2022 incorrect: %+v", m.Projection[1])
	}

	// Peer median: one point per year in range
	if len(m.PeerMedian) != 13 {
		t.Fatalf("Expected 13 median points, got %d", len(m.PeerMedian))
	}
	byYear := map[int]models.NullFloat{}
	for _, p := range m.PeerMedian {
		byYear[p.Year] = p.Value
	}
	if byYear[2019] != models.Some(15) {
		t.Errorf("2019 median: expected 15, got %+v", byYear[2019])
	}
	if byYear[2020] != models.Some(30) {
		t.Errorf("2020 median: expected 30 (USA absent), got %+v", byYear[2020])
	}
	if byYear[2010].Valid {
		t.Errorf("2010 median should be absent, got %+v", byYear[2010])
	}
}

func TestYoYGapIsUnavailable(t *testing.T) {
	set := models.SeriesSet{"IND": series("IND", map[int]*float64{2019: f(100), 2020: nil, 2021: f(110)})}
	m := Compute(set, "IND", nil, 2000, 2021)
	if m.LatestYear != 2021 {
		t.Fatalf("Expected latest 2021, got %d", m.LatestYear)
	}
	if m.YoYChangePct.Valid {
		t.Errorf("YoY across a gap must be unavailable, got %v", m.YoYChangePct.Value)
	}
}

func TestCAGRNonPositiveStart(t *testing.T) {
	for _, start := range []float64{0, -5} {
		set := models.SeriesSet{"IND": series("IND", map[int]*float64{2015: f(start), 2020: f(50)})}
		m := Compute(set, "IND", nil, 2000, 2020)
		if m.CAGR5yPct.Valid {
			t.Errorf("start=%v: CAGR must be unavailable, got %v", start, m.CAGR5yPct.Value)
		}
		if m.Projection != nil {
			t.Errorf("start=%v: no projection without CAGR", start)
		}
	}
}

func TestCAGRStartClampedToRange(t *testing.T) {
	// Range starts 2018, so the base is 2018 and n = 2
	set := models.SeriesSet{"IND": series("IND", map[int]*float64{2015: f(1), 2018: f(100), 2020: f(121)})}
	m := Compute(set, "IND", nil, 2018, 2020)
	if !m.CAGR5yPct.Valid || !near(m.CAGR5yPct.Value, 10) {
		t.Errorf("Expected 10%% over 2 years, got %+v", m.CAGR5yPct)
	}

	// Absent start year: unavailable, no fallback to a nearby year
	set = models.SeriesSet{"IND": series("IND", map[int]*float64{2015: nil, 2016: f(100), 2020: f(121)})}
	m = Compute(set, "IND", nil, 2000, 2020)
	if m.CAGR5yPct.Valid {
		t.Errorf("Expected unavailable CAGR with absent start, got %v", m.CAGR5yPct.Value)
	}
}

func TestNoData(t *testing.T) {
	set := models.SeriesSet{"IND": series("IND", map[int]*float64{2019: nil, 2023: f(7)})}
	m := Compute(set, "IND", nil, 2000, 2020)
	if m.Status != models.StatusNoData {
		t.Errorf("Expected no_data, got %s", m.Status)
	}
	if m.LatestValue.Valid || m.YoYChangePct.Valid || m.CAGR5yPct.Valid || m.LatestYear != 0 {
		t.Errorf("No-data metrics must be absent, got %+v", m)
	}
}

func TestPeerMedian(t *testing.T) {
	set := models.SeriesSet{
		"A":   series("A", map[int]*float64{2020: f(10)}),
		"B":   series("B", map[int]*float64{2020: nil}),
		"C":   series("C", map[int]*float64{2020: f(30)}),
		"IND": series("IND", map[int]*float64{2020: f(1000)}),
	}
	got := PeerMedian(set, "IND", []string{"A", "B", "C", "IND", "A"}, 2020, 2020)
	if len(got) != 1 || got[0].Value != models.Some(20) {
		t.Errorf("Expected median 20, got %+v", got)
	}

	if PeerMedian(set, "IND", nil, 2020, 2020) != nil {
		t.Error("Expected nil median without peers")
	}

	odd := median([]float64{5, 1, 3})
	if odd != models.Some(3) {
		t.Errorf("Odd median: expected 3, got %+v", odd)
	}
}

func TestLatestByCountry(t *testing.T) {
	set := models.SeriesSet{
		"CHN": series("CHN", map[int]*float64{2019: f(50), 2020: nil}),
		"USA": series("USA", map[int]*float64{2020: f(80)}),
		"NPL": series("NPL", map[int]*float64{2020: nil}),
	}
	got := LatestByCountry(set, func(c string) string { return "name:" + c }, 2000, 2020)
	if len(got) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(got))
	}
	if got[0].Country != "USA" || got[1].Country != "CHN" || got[1].Year != 2019 {
		t.Errorf("Unexpected ordering: %+v", got)
	}
	if got[0].Label != "name:USA" {
		t.Errorf("Label not applied: %+v", got[0])
	}
}

func TestForecastAndSmoothing(t *testing.T) {
	m := models.Metrics{Status: models.StatusOK, LatestYear: 2020, LatestValue: models.Some(100), CAGR5yPct: models.Some(10)}
	fc := Forecast(m, 3)
	if len(fc) != 3 || fc[2].Year != 2023 || !near(fc[2].Value.Value, 133.1) {
		t.Errorf("Forecast incorrect: %+v", fc)
	}
	m.CAGR5yPct = models.None
	if Forecast(m, 3) != nil {
		t.Error("Forecast without CAGR must be empty")
	}

	s := series("IND", map[int]*float64{2018: f(3), 2019: nil, 2020: f(9), 2021: nil, 2022: nil, 2023: nil})
	ma := MovingAverage(s, 3)
	if ma[0].Value != models.Some(3) {
		t.Errorf("2018: expected 3, got %+v", ma[0].Value)
	}
	if ma[2].Value != models.Some(6) {
		t.Errorf("2020: expected 6, got %+v", ma[2].Value)
	}
	if ma[4].Value != models.Some(9) {
		t.Errorf("2022: expected 9, got %+v", ma[4].Value)
	}
	if ma[5].Value.Valid {
		t.Errorf("2023: expected absent, got %+v", ma[5].Value)
	}
}
