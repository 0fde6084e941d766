package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnknownSymbol is the "no idea" card
const UnknownSymbol = "?"

// Points is a story point estimate: a number from the scale or the unknown card.
type Points struct {
	Value   float64
	Unknown bool
}

// Scale is the fixed estimation deck
var Scale = []Points{
	{Value: 0},
	{Value: 0.5},
	{Value: 1},
	{Value: 2},
	{Value: 3},
	{Value: 5},
	{Value: 8},
	{Value: 13},
	{Value: 20},
	{Value: 40},
	{Value: 100},
	{Unknown: true},
}

// NumericPoints returns a numeric estimate
func NumericPoints(v float64) Points {
	return Points{Value: v}
}

// UnknownPoints returns the unknown card
func UnknownPoints() Points {
	return Points{Unknown: true}
}

// ParsePoints parses a card label such as "5", "0.5" or "?"
func ParsePoints(s string) (Points, error) {
	s = strings.TrimSpace(s)
	if s == UnknownSymbol {
		return UnknownPoints(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Points{}, fmt.Errorf("invalid story points %q", s)
	}
	return NumericPoints(v), nil
}

// OnScale reports whether p is one of the cards in Scale
func (p Points) OnScale() bool {
	for _, c := range Scale {
		if c == p {
			return true
		}
	}
	return false
}

func (p Points) String() string {
	if p.Unknown {
		return UnknownSymbol
	}
	return strconv.FormatFloat(p.Value, 'f', -1, 64)
}

// MarshalJSON writes numbers as JSON numbers and the unknown card as "?"
func (p Points) MarshalJSON() ([]byte, error) {
	if p.Unknown {
		return json.Marshal(UnknownSymbol)
	}
	return []byte(strconv.FormatFloat(p.Value, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a number, "?" or a numeric string
func (p *Points) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParsePoints(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid story points: %w", err)
	}
	*p = NumericPoints(v)
	return nil
}
