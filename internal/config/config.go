// Package config reads process settings from the environment, after loading
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
)

const DefaultBaseURL = "https://api.worldbank.org/v2"

type Config struct {
	Addr           string
	BaseURL        string
	PrimaryCountry string
	LogLevel       log.Lvl
	WarmCache      bool

	CacheTTL time.Duration

	FetchAttempts    int
	FetchBaseDelay   time.Duration
	FetchJitter      float64
	FetchTimeout     time.Duration
	FetchPerPage     int
	FetchMaxPages    int
	FetchRPS         float64
	FetchConcurrency int
}

func Defaults() Config {
	return Config{
		Addr:             ":8080",
		BaseURL:          DefaultBaseURL,
		PrimaryCountry:   "IND",
		LogLevel:         log.INFO,
		WarmCache:        true,
		CacheTTL:         time.Hour,
		FetchAttempts:    3,
		FetchBaseDelay:   600 * time.Millisecond,
		FetchJitter:      0.2,
		FetchTimeout:     30 * time.Second,
		FetchPerPage:     20000,
		FetchMaxPages:    50,
		FetchRPS:         10,
		FetchConcurrency: 4,
	}
}

// Load applies .env (if present) and then the environment over Defaults.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, which has the shape of os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Defaults()
	p := parser{lookup: lookup}

	p.str("MACRODASH_ADDR", &c.Addr)
	p.str("WB_BASE_URL", &c.BaseURL)
	p.str("PRIMARY_COUNTRY", &c.PrimaryCountry)
	p.level("LOG_LEVEL", &c.LogLevel)
	p.boolean("WARM_CACHE", &c.WarmCache)
	p.duration("CACHE_TTL", &c.CacheTTL)
	p.integer("FETCH_ATTEMPTS", &c.FetchAttempts)
	p.duration("FETCH_BASE_DELAY", &c.FetchBaseDelay)
	p.float("FETCH_JITTER", &c.FetchJitter)
	p.duration("FETCH_TIMEOUT", &c.FetchTimeout)
	p.integer("FETCH_PER_PAGE", &c.FetchPerPage)
	p.integer("FETCH_MAX_PAGES", &c.FetchMaxPages)
	p.float("FETCH_RPS", &c.FetchRPS)
	p.integer("FETCH_CONCURRENCY", &c.FetchConcurrency)
	if p.err != nil {
		return Config{}, p.err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.CacheTTL <= 0:
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	case c.FetchAttempts < 1:
		return fmt.Errorf("FETCH_ATTEMPTS must be at least 1, got %d", c.FetchAttempts)
	case c.FetchJitter < 0 || c.FetchJitter > 1:
		return fmt.Errorf("FETCH_JITTER must be within [0,1], got %g", c.FetchJitter)
	case c.FetchPerPage < 1:
		return fmt.Errorf("FETCH_PER_PAGE must be at least 1, got %d", c.FetchPerPage)
	case c.FetchMaxPages < 1:
		return fmt.Errorf("FETCH_MAX_PAGES must be at least 1, got %d", c.FetchMaxPages)
	case c.FetchRPS < 0:
		return fmt.Errorf("FETCH_RPS must not be negative, got %g", c.FetchRPS)
	case c.FetchConcurrency < 1:
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency)
	}
	return nil
}

// parser keeps the first error so callers can chain lookups.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("config %s=%q: %w", key, v, err)
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.raw(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.raw(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.raw(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.raw(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (p *parser) level(key string, dst *log.Lvl) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	switch v {
	case "debug", "DEBUG":
		*dst = log.DEBUG
	case "info", "INFO":
		*dst = log.INFO
	case "warn", "WARN":
		*dst = log.WARN
	case "error", "ERROR":
		*dst = log.ERROR
	case "off", "OFF":
		*dst = log.OFF
	default:
		p.fail(key, v, fmt.Errorf("unknown log level"))
	}
}
