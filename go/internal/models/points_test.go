package models

import (
	"encoding/json"
	"testing"
)

func TestParsePoints(t *testing.T) {
	cases := map[string]Points{
		"5":    NumericPoints(5),
		" 0.5": NumericPoints(0.5),
		"?":    UnknownPoints(),
	}
	for in, want := range cases {
		got, err := ParsePoints(in)
		if err != nil || got != want {
			t.Fatalf("ParsePoints(%q) = %+v, %v", in, got, err)
		}
	}
}

func TestParsePointsRejectsNonFinite(t *testing.T) {
	for _, in := range []string{"NaN", "nan", "Inf", "-Inf", "Infinity", "+infinity", "abc", ""} {
		if p, err := ParsePoints(in); err == nil {
			t.Fatalf("ParsePoints(%q) = %+v, expected error", in, p)
		}
	}
}

func TestPointsUnmarshalRejectsNonFiniteString(t *testing.T) {
	var v Vote
	if err := json.Unmarshal([]byte(`{"userId":"u","storyPoints":"NaN"}`), &v); err == nil {
		t.Fatalf("expected NaN story points to be rejected, got %+v", v)
	}

	if err := json.Unmarshal([]byte(`{"userId":"u","storyPoints":"?"}`), &v); err != nil || !v.StoryPoints.Unknown {
		t.Fatalf("expected unknown card, got %+v, %v", v, err)
	}
	if err := json.Unmarshal([]byte(`{"userId":"u","storyPoints":13}`), &v); err != nil || v.StoryPoints != NumericPoints(13) {
		t.Fatalf("expected 13, got %+v, %v", v, err)
	}
}
