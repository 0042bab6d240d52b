package engine

import (
	"bytes"
	"fmt"
	"macrodash/internal/models"
	"macrodash/internal/worldbank"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// --- 1. FIELD PARSERS ---

// parseYear accepts annual dates only ("2021"). Quarterly or monthly
// stamps ("2021Q1", "2021M03") are not years and report false.
func parseYear(s string) (int, bool) {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return y, true
}

// parseValue maps a raw JSON value onto NullFloat. A missing field, null and
// the empty string are absent; numbers and numeric strings are present.
func parseValue(raw json.RawMessage) (models.NullFloat, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.None, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.None, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return models.None, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.None, fmt.Errorf("non-numeric value %q", s)
		}
		return models.Finite(f), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.None, fmt.Errorf("value %s is not a number", raw)
	}
	return models.Finite(f), nil
}

// --- 2. NORMALIZER ---

// Normalize flattens fetched pages into one series per country, ordered by
// year. Records are applied in page order, so a later record for the same
// (country, year) replaces an earlier one. Absent values are kept as
// placeholders. The result depends only on the input.
func Normalize(pages []worldbank.Page, indicator string) (models.SeriesSet, error) {
	byCountry := make(map[string]map[int]models.Observation)

	for _, p := range pages {
		for i, r := range p.Records {
			if r.Indicator.ID != "" && r.Indicator.ID != indicator {
				return nil, &worldbank.DataShapeError{
					Country: p.Country, Indicator: indicator, Page: p.Number,
					Reason: fmt.Sprintf("record %d belongs to indicator %q", i, r.Indicator.ID),
				}
			}
			year, ok := parseYear(r.Date)
			if !ok {
				continue
			}
			value, err := parseValue(r.Value)
			if err != nil {
				return nil, &worldbank.DataShapeError{
					Country: p.Country, Indicator: indicator, Page: p.Number,
					Reason: fmt.Sprintf("record %d (%s): %v", i, r.Date, err),
				}
			}

			country := strings.ToUpper(strings.TrimSpace(r.CountryISO3))
			if country == "" {
				country = p.Country
			}
			years, ok := byCountry[country]
			if !ok {
				years = make(map[int]models.Observation)
				byCountry[country] = years
			}
			years[year] = models.Observation{Country: country, Year: year, Value: value}
		}
	}

	set := make(models.SeriesSet, len(byCountry))
	for country, years := range byCountry {
		s := make(models.Series, 0, len(years))
		for _, o := range years {
			s = append(s, o)
		}
		sort.Slice(s, func(i, j int) bool { return s[i].Year < s[j].Year })
		set[country] = s
	}
	return set, nil
}
