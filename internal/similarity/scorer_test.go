package similarity

import (
	"math"
	"testing"

	"github.com/openartmap/openartmap/internal/catalog"
)

func record(lat, lon float64, title string) Record {
	return Record{HasCoords: true, Lat: lat, Lon: lon, Title: title}
}

func TestDistanceSignal_IdenticalCoordinates(t *testing.T) {
	scorer := NewWeightedScorer()
	res := scorer.Score(record(38.58, -121.49, ""), record(38.58, -121.49, ""), DefaultProfile())

	sig := findSignal(t, res, SignalDistance)
	if sig.Raw != 1.0 {
		t.Errorf("distance raw = %v, want 1.0", sig.Raw)
	}
	if sig.Weighted != 0.3 {
		t.Errorf("distance weighted = %v, want 0.3", sig.Weighted)
	}
}

func TestDistanceSignal_Symmetric(t *testing.T) {
	scorer := NewWeightedScorer()
	a := record(38.5800, -121.4900, "")
	b := record(38.5810, -121.4910, "")

	ab := findSignal(t, scorer.Score(a, b, DefaultProfile()), SignalDistance)
	ba := findSignal(t, scorer.Score(b, a, DefaultProfile()), SignalDistance)
	if ab.Raw != ba.Raw {
		t.Errorf("distance not symmetric: %v vs %v", ab.Raw, ba.Raw)
	}
}

func TestDistanceSignal_BeyondCutoff(t *testing.T) {
	scorer := NewWeightedScorer()
	// Roughly 1.1km apart, past the 500m default cutoff.
	res := scorer.Score(record(38.58, -121.49, ""), record(38.59, -121.49, ""), DefaultProfile())

	sig := findSignal(t, res, SignalDistance)
	if sig.Raw != 0 {
		t.Errorf("distance raw = %v, want 0 beyond cutoff", sig.Raw)
	}
}

func TestDistanceSignal_NonFiniteDegradesToZero(t *testing.T) {
	scorer := NewWeightedScorer()
	q := Record{HasCoords: true, Lat: math.NaN(), Lon: -121.49}
	res := scorer.Score(q, record(38.58, -121.49, ""), DefaultProfile())

	sig := findSignal(t, res, SignalDistance)
	if sig.Raw != 0 || sig.Weighted != 0 {
		t.Errorf("NaN coordinates should zero the distance signal, got raw=%v weighted=%v", sig.Raw, sig.Weighted)
	}
}

func TestScore_CoordinatesAndTitleOnly(t *testing.T) {
	// Identical coordinates and identical titles with nothing else shared
	// score exactly distance + title = 0.5, below the 0.7 duplicate cutoff.
	scorer := NewWeightedScorer()
	q := record(38.58, -121.49, "Big Blue Bear")
	c := record(38.58, -121.49, "Big Blue Bear")

	res := scorer.Score(q, c, DefaultProfile())
	if res.Overall != 0.5 {
		t.Errorf("overall = %v, want 0.5", res.Overall)
	}
	if res.Band != BandNone {
		t.Errorf("band = %q, want %q", res.Band, BandNone)
	}
}

func TestScore_SevenMatchingTagsCrossesThreshold(t *testing.T) {
	tags := catalog.TagMap{
		"material":  catalog.StringTag("bronze"),
		"type":      catalog.StringTag("statue"),
		"height":    catalog.NumberTag(12),
		"lit":       catalog.BoolTag(true),
		"year":      catalog.NumberTag(1998),
		"style":     catalog.StringTag("modern"),
		"condition": catalog.StringTag("good"),
	}
	q := record(38.58, -121.49, "Big Blue Bear")
	q.Tags = tags
	c := record(38.58, -121.49, "Big Blue Bear")
	c.Tags = tags

	res := NewWeightedScorer().Score(q, c, DefaultProfile())
	// location 0.3 + title 0.2 + 7 tags * 0.05 = 0.85
	if res.Overall < 0.85-1e-9 {
		t.Errorf("overall = %v, want >= 0.85", res.Overall)
	}
	if res.Band != BandHigh {
		t.Errorf("band = %q, want %q", res.Band, BandHigh)
	}
}

func TestTagSignal_CaseNormalizedValues(t *testing.T) {
	q := record(38.58, -121.49, "")
	q.Tags = catalog.TagMap{"Material": catalog.StringTag("Bronze")}
	c := record(38.58, -121.49, "")
	c.Tags = catalog.TagMap{"material": catalog.StringTag("bronze")}

	res := NewWeightedScorer().Score(q, c, DefaultProfile())
	sig := findSignal(t, res, SignalTagOverlap)
	if sig.Raw != 1.0 {
		t.Errorf("tag raw = %v, want 1.0 for case-normalized match", sig.Raw)
	}
	if sig.Weighted != 0.05 {
		t.Errorf("tag weighted = %v, want 0.05", sig.Weighted)
	}
}

func TestTagSignal_MismatchedValuesContributeNothing(t *testing.T) {
	q := record(38.58, -121.49, "")
	q.Tags = catalog.TagMap{"material": catalog.StringTag("bronze")}
	c := record(38.58, -121.49, "")
	c.Tags = catalog.TagMap{"material": catalog.StringTag("steel")}

	res := NewWeightedScorer().Score(q, c, DefaultProfile())
	sig := findSignal(t, res, SignalTagOverlap)
	if sig.Weighted != 0 {
		t.Errorf("tag weighted = %v, want 0", sig.Weighted)
	}
}

func TestExternalIDSignal_ExactMatchFullWeight(t *testing.T) {
	q := record(38.58, -121.49, "")
	q.ExternalID = "node/12345"
	c := record(40.0, -100.0, "")
	c.ExternalID = "node/12345"

	res := NewWeightedScorer().Score(q, c, DefaultProfile())
	sig := findSignal(t, res, SignalExternalID)
	if sig.Weighted != 0.5 {
		t.Errorf("externalId weighted = %v, want the full 0.5", sig.Weighted)
	}
}

func TestExternalIDSignal_AbsentSideScoresZero(t *testing.T) {
	q := record(38.58, -121.49, "")
	q.ExternalID = "node/12345"
	c := record(38.58, -121.49, "")

	res := NewWeightedScorer().Score(q, c, DefaultProfile())
	sig := findSignal(t, res, SignalExternalID)
	if sig.Weighted != 0 {
		t.Errorf("externalId weighted = %v, want 0", sig.Weighted)
	}
}

func TestArtistSignal_AbsentSideScoresZero(t *testing.T) {
	q := record(38.58, -121.49, "")
	q.ArtistName = "Banksy"
	c := record(38.58, -121.49, "")

	res := NewWeightedScorer().Score(q, c, DefaultProfile())
	sig := findSignal(t, res, SignalArtistName)
	if sig.Raw != 0 {
		t.Errorf("artist raw = %v, want 0 when candidate has no artist", sig.Raw)
	}
}

func TestClassify(t *testing.T) {
	p := DefaultProfile()
	tests := []struct {
		score float64
		want  Band
	}{
		{0.0, BandNone},
		{0.54, BandNone},
		{0.55, BandWarning},
		{0.69, BandWarning},
		{0.7, BandHigh},
		{1.3, BandHigh},
	}
	for _, tt := range tests {
		if got := Classify(tt.score, p); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestHaversineMeters(t *testing.T) {
	if d := HaversineMeters(38.58, -121.49, 38.58, -121.49); d != 0 {
		t.Errorf("identical points distance = %v, want 0", d)
	}
	// One degree of latitude is roughly 111km.
	d := HaversineMeters(38.0, -121.0, 39.0, -121.0)
	if d < 110000 || d > 112000 {
		t.Errorf("one degree latitude = %v m, want ~111000", d)
	}
}

func findSignal(t *testing.T, res Result, typ SignalType) Signal {
	t.Helper()
	for _, s := range res.Signals {
		if s.Type == typ {
			return s
		}
	}
	t.Fatalf("signal %q not present in result", typ)
	return Signal{}
}
