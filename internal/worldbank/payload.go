package worldbank

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Meta is the first element of every response. The API is inconsistent
// about number encoding (per_page arrives as a string), so each field
// accepts either form; missing fields read as zero.
type Meta struct {
	Page    FlexInt `json:"page"`
	Pages   FlexInt `json:"pages"`
	PerPage FlexInt `json:"per_page"`
	Total   FlexInt `json:"total"`
}

type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("non-numeric count %q", s)
		}
		*f = FlexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

type Ref struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Record is one raw observation as delivered by the API. Value is kept raw
// so the normalizer can tell null from a missing field from a number.
type Record struct {
	Indicator   Ref             `json:"indicator"`
	Country     Ref             `json:"country"`
	CountryISO3 string          `json:"countryiso3code"`
	Date        string          `json:"date"`
	Value       json.RawMessage `json:"value"`
}

// Page is one decoded response for the requested (country, indicator).
type Page struct {
	Country   string
	Indicator string
	Number    int
	Meta      Meta
	Records   []Record
}

type apiMessage struct {
	Message []struct {
		ID    string `json:"id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"message"`
}

// decodePage reads a `[meta, records]` payload. A missing or null records
// element is a valid empty page.
func decodePage(body []byte) (Meta, []Record, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return Meta{}, nil, fmt.Errorf("payload is not a JSON array: %w", err)
	}
	if len(parts) == 0 {
		return Meta{}, nil, nil
	}

	var msg apiMessage
	if err := json.Unmarshal(parts[0], &msg); err == nil && len(msg.Message) > 0 {
		m := msg.Message[0]
		return Meta{}, nil, fmt.Errorf("API message %s: %s", m.ID, strings.TrimSpace(m.Key+" "+m.Value))
	}

	var meta Meta
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("metadata: %w", err)
	}
	if len(parts) < 2 {
		return meta, nil, nil
	}
	var records []Record
	if err := json.Unmarshal(parts[1], &records); err != nil {
		return Meta{}, nil, fmt.Errorf("records: %w", err)
	}
	return meta, records, nil
}
