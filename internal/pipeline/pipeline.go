// Package pipeline runs one interaction cycle: a view selection goes in,
// the cached or freshly fetched series are normalized and the metrics and
// render-ready bundle come out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"macrodash/internal/cache"
	"macrodash/internal/engine"
	"macrodash/internal/models"
	"macrodash/internal/registry"
	"macrodash/internal/viewstate"
	"macrodash/internal/worldbank"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHorizon = 5
	MaxHorizon     = 10
	SmoothWindow   = 3
)

// Fetcher is satisfied by *worldbank.Client.
type Fetcher interface {
	Fetch(ctx context.Context, country, indicator string) ([]worldbank.Page, error)
}

// PartialError is returned by a fetch cycle in which some countries could
// not be loaded. The accompanying SeriesSet holds the countries that could.
type PartialError struct {
	Failures []models.SeriesFailure
}

func (e *PartialError) Error() string {
	cs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		cs[i] = f.Country
	}
	return fmt.Sprintf("%d series failed: %s", len(e.Failures), strings.Join(cs, ","))
}

type Options struct {
	TTL         time.Duration
	Window      cache.Window
	Concurrency int
}

type Pipeline struct {
	reg     *registry.Registry
	codec   *viewstate.Codec
	fetcher Fetcher
	cache   *cache.Cache[models.SeriesSet]
	opts    Options
	logger  *log.Logger
}

func New(reg *registry.Registry, codec *viewstate.Codec, fetcher Fetcher, c *cache.Cache[models.SeriesSet], opts Options, logger *log.Logger) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if logger == nil {
		logger = log.New("pipeline")
	}
	return &Pipeline{reg: reg, codec: codec, fetcher: fetcher, cache: c, opts: opts, logger: logger}
}

func (p *Pipeline) Codec() *viewstate.Codec      { return p.codec }
func (p *Pipeline) Registry() *registry.Registry { return p.reg }

// Request is one interaction: a selection plus the display extras of the
// dashboard (forecast horizon and smoothing overlay).
type Request struct {
	View    models.ViewState
	Horizon int
	Smooth  bool
}

// Series returns the full series of indicator for countries, through the
// cache. Countries that failed are reported as failures, not as an error;
// the returned error is only ever the caller's context error.
func (p *Pipeline) Series(ctx context.Context, indicator string, countries []string) (models.SeriesSet, []models.SeriesFailure, error) {
	key := cache.NewKey(indicator, countries, p.opts.Window)
	set, err := p.cache.GetOrFetch(ctx, key, p.opts.TTL, func(ctx context.Context) (models.SeriesSet, error) {
		return p.produce(ctx, indicator, key.Countries)
	})

	var partial *PartialError
	switch {
	case errors.As(err, &partial):
		return set, partial.Failures, nil
	case err != nil:
		return nil, nil, err
	}
	return set, nil, nil
}

// produce fetches and normalizes every country concurrently. One country
// failing never cancels its siblings.
func (p *Pipeline) produce(ctx context.Context, indicator string, countries []string) (models.SeriesSet, error) {
	sets := make([]models.SeriesSet, len(countries))
	fails := make([]*models.SeriesFailure, len(countries))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, country := range countries {
		i, country := i, country
		g.Go(func() error {
			pages, err := p.fetcher.Fetch(ctx, country, indicator)
			if err == nil {
				sets[i], err = engine.Normalize(pages, indicator)
			}
			if err != nil {
				p.logger.Warnf("%s/%s: %v", country, indicator, err)
				fails[i] = failure(country, indicator, err)
				return nil
			}
			// an empty series marks "no data" as distinct from a failure
			if _, ok := sets[i][country]; !ok {
				sets[i][country] = models.Series{}
			}
			return nil
		})
	}
	_ = g.Wait()

	merged := models.SeriesSet{}
	var failures []models.SeriesFailure
	for i := range countries {
		if fails[i] != nil {
			failures = append(failures, *fails[i])
			continue
		}
		merged = merged.Merge(sets[i])
	}
	if len(failures) > 0 {
		return merged, &PartialError{Failures: failures}
	}
	return merged, nil
}

func failure(country, indicator string, err error) *models.SeriesFailure {
	f := &models.SeriesFailure{Country: country, Indicator: indicator, Kind: models.FailureFetch, Message: err.Error()}
	var shape *worldbank.DataShapeError
	if errors.As(err, &shape) {
		f.Kind = models.FailureDataShape
	}
	return f
}

// Run executes one full interaction cycle for req.
func (p *Pipeline) Run(ctx context.Context, req Request) (models.Bundle, error) {
	view := p.codec.Clamp(req.View)
	spec, err := p.reg.Indicator(view.Indicator)
	if err != nil {
		return models.Bundle{}, err
	}
	primary := p.reg.Primary()
	countries := append([]string{primary}, view.Peers...)

	set, failures, err := p.Series(ctx, view.Indicator, countries)
	if err != nil {
		return models.Bundle{}, err
	}
	if failures == nil {
		failures = []models.SeriesFailure{}
	}

	windowed := set.Window(view.YearStart, view.YearEnd)
	metrics := engine.Compute(set, primary, view.Peers, view.YearStart, view.YearEnd)

	b := models.Bundle{
		View:      view,
		Indicator: spec,
		Primary:   primary,
		Series:    windowed,
		Metrics:   metrics,
		Latest:    engine.LatestByCountry(windowed, p.reg.CountryLabel, view.YearStart, view.YearEnd),
		Forecast:  engine.Forecast(metrics, clampHorizon(req.Horizon)),
		Failures:  failures,
		Permalink: p.codec.Encode(view).Query(),
	}
	if req.Smooth {
		b.Smoothed = engine.Smooth(windowed, SmoothWindow)
	}
	return b, nil
}

func clampHorizon(h int) int {
	switch {
	case h <= 0:
		return DefaultHorizon
	case h > MaxHorizon:
		return MaxHorizon
	}
	return h
}

// Warm runs the default view once so the first visitor hits a populated
// cache.
func (p *Pipeline) Warm(ctx context.Context) (models.Bundle, error) {
	return p.Run(ctx, Request{View: p.codec.Default()})
}
