package models

import (
	"bytes"
	"math"

	"github.com/goccy/go-json"
)

// NullFloat is a float64 that may be absent. An absent value is never the
// same as a reported zero.
type NullFloat struct {
	Value float64
	Valid bool
}

func Some(v float64) NullFloat { return NullFloat{Value: v, Valid: true} }

var None = NullFloat{}

// Finite returns a present value only when v is a real number.
func Finite(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return None
	}
	return Some(v)
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *NullFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*n = None
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}
