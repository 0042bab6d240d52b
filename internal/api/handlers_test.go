package api

import (
	"context"
	"fmt"
	"io"
	"macrodash/internal/cache"
	"macrodash/internal/models"
	"macrodash/internal/pipeline"
	"macrodash/internal/registry"
	"macrodash/internal/viewstate"
	"macrodash/internal/worldbank"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upstreamData = map[string]map[int]string{
	"IND": {2015: "100", 2016: "110", 2017: "121", 2018: "133.1", 2019: "146.41", 2020: "161.051"},
	"CHN": {2019: "10", 2020: "30"},
	"USA": {2019: "20", 2020: "null"},
}

// upstream mimics the indicator API. Countries in failing answer 500.
func upstream(t *testing.T, failing ...string) *httptest.Server {
	bad := map[string]bool{}
	for _, c := range failing {
		bad[c] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /country/{iso3}/indicator/{code}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 4 {
			http.NotFound(w, r)
			return
		}
		country, indicator := parts[1], parts[3]
		if bad[country] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var recs []string
		for y, v := range upstreamData[country] {
			recs = append(recs, fmt.Sprintf(`{"indicator":{"id":%q},"countryiso3code":%q,"date":"%d","value":%s}`, indicator, country, y, v))
		}
		fmt.Fprintf(w, `[{"page":1,"pages":1,"per_page":"100","total":%d},[%s]]`, len(recs), strings.Join(recs, ","))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func setup(t *testing.T, failing ...string) (*echo.Echo, *Handler) {
	srv := upstream(t, failing...)
	client := worldbank.NewClient(srv.URL,
		worldbank.WithLogger(quietLogger()),
		worldbank.WithPerPage(100),
		worldbank.WithPolicy(worldbank.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, Sleep: noSleep}),
	)
	reg := registry.Default()
	p := pipeline.New(reg, viewstate.New(reg, 2024), client, cache.New[models.SeriesSet](),
		pipeline.Options{TTL: time.Minute, Window: cache.Window{PerPage: 100, MaxPages: 5}, Concurrency: 2}, quietLogger())

	e := echo.New()
	h := NewHandler(p, pipeline.NewSessions(p))
	h.RegisterRoutes(e)
	return e, h
}

func do(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRegistryEndpoints(t *testing.T) {
	e, _ := setup(t)

	rec := do(e, http.MethodGet, "/api/indicators")
	require.Equal(t, http.StatusOK, rec.Code)
	var inds []models.IndicatorSpec
	decode(t, rec, &inds)
	assert.Len(t, inds, 7)

	rec = do(e, http.MethodGet, "/api/countries")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Primary   string            `json:"primary"`
		Countries []models.Country  `json:"countries"`
		Presets   []registry.Preset `json:"presets"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "IND", body.Primary)
	assert.Len(t, body.Presets, 3)
}

func TestGetView(t *testing.T) {
	e, _ := setup(t)

	rec := do(e, http.MethodGet, "/api/view?peers=chn,USA,XXX&yr1=2010&yr2=2022&smooth=true&ahead=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var b models.Bundle
	decode(t, rec, &b)
	assert.Equal(t, []string{"CHN", "USA"}, b.View.Peers)
	assert.Equal(t, 2020, b.Metrics.LatestYear)
	assert.InDelta(t, 10, b.Metrics.CAGR5yPct.Value, 1e-6)
	assert.Len(t, b.Forecast, 2)
	assert.NotEmpty(t, b.Smoothed)
	assert.Empty(t, b.Failures)
	assert.Equal(t, "ind=NY.GDP.MKTP.CD&median=1&peers=CHN%2CUSA&theme=light&yr1=2010&yr2=2022", b.Permalink)

	o, ok := b.Series["USA"].At(2020)
	require.True(t, ok)
	assert.False(t, o.Value.Valid, "absent survives the JSON round trip")
}

func TestGetViewPartialFailure(t *testing.T) {
	e, _ := setup(t, "CHN")

	rec := do(e, http.MethodGet, "/api/view?peers=CHN")
	require.Equal(t, http.StatusOK, rec.Code)

	var b models.Bundle
	decode(t, rec, &b)
	require.Len(t, b.Failures, 1)
	assert.Equal(t, "CHN", b.Failures[0].Country)
	assert.Equal(t, models.FailureFetch, b.Failures[0].Kind)
	assert.Equal(t, models.StatusOK, b.Metrics.Status)
}

func TestGetPermalink(t *testing.T) {
	e, _ := setup(t)

	rec := do(e, http.MethodGet, "/api/permalink?yr1=abc&yr2=2010&peers=chn,XXX,USA&theme=Dark&median=false")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Query  string            `json:"query"`
		Params map[string]string `json:"params"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "ind=NY.GDP.MKTP.CD&median=0&peers=CHN%2CUSA&theme=dark&yr1=2000&yr2=2024", body.Query)
	assert.Equal(t, "CHN,USA", body.Params["peers"])
}

func TestGetRows(t *testing.T) {
	e, _ := setup(t)

	rec := do(e, http.MethodGet, "/api/rows?peers=CHN,USA&yr1=2019&yr2=2020")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, arrowStreamType, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "0", rec.Header().Get("X-Series-Failures"))

	r, err := ipc.NewReader(rec.Body)
	require.NoError(t, err)
	defer r.Release()
	var rows, nulls int
	for r.Next() {
		rows += int(r.Record().NumRows())
		nulls += r.Record().Column(2).NullN()
	}
	assert.Equal(t, 6, rows)
	assert.Equal(t, 1, nulls)
}

func TestSessionLifecycle(t *testing.T) {
	e, _ := setup(t)

	rec := do(e, http.MethodPost, "/api/sessions")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID   string           `json:"id"`
		View models.ViewState `json:"view"`
	}
	decode(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "NY.GDP.MKTP.CD", created.View.Indicator)

	rec = do(e, http.MethodPut, "/api/sessions/"+created.ID+"/view?ind=SP.POP.TOTL&peers=USA")
	require.Equal(t, http.StatusOK, rec.Code)
	var applied struct {
		Superseded bool          `json:"superseded"`
		Bundle     models.Bundle `json:"bundle"`
	}
	decode(t, rec, &applied)
	assert.False(t, applied.Superseded)
	assert.Equal(t, "SP.POP.TOTL", applied.Bundle.Indicator.Code)

	rec = do(e, http.MethodGet, "/api/sessions/"+created.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var current struct {
		View   models.ViewState `json:"view"`
		Bundle *models.Bundle   `json:"bundle"`
	}
	decode(t, rec, &current)
	assert.Equal(t, "SP.POP.TOTL", current.View.Indicator)
	require.NotNil(t, current.Bundle)

	rec = do(e, http.MethodPost, "/api/sessions/"+created.ID+"/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &applied)
	assert.Equal(t, "NY.GDP.MKTP.CD", applied.Bundle.View.Indicator)

	rec = do(e, http.MethodGet, "/api/sessions/00000000-0000-0000-0000-000000000000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	e, h := setup(t)

	rec := do(e, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"warm":false`)

	h.SetWarm(true)
	rec = do(e, http.MethodGet, "/healthz")
	assert.Contains(t, rec.Body.String(), `"warm":true`)
}
