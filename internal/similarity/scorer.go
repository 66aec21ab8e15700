// Package similarity scores how closely an incoming import record matches an
// existing catalog entry. Scoring is pure: no I/O, no shared state, and every
// well-formed input produces a result.
package similarity

import (
	"math"
	"strings"

	"github.com/openartmap/openartmap/internal/catalog"
)

// SignalType identifies one independent similarity dimension.
type SignalType string

// Signal types.
const (
	SignalDistance   SignalType = "distance"
	SignalTitle      SignalType = "title"
	SignalArtistName SignalType = "artistName"
	SignalTagOverlap SignalType = "tagOverlap"
	SignalExternalID SignalType = "externalId"
)

// Band classifies an overall score against the configured thresholds.
type Band string

// Threshold bands.
const (
	BandNone    Band = "none"
	BandWarning Band = "warning"
	BandHigh    Band = "high"
)

// Weights holds the per-signal weighting for a scoring profile.
type Weights struct {
	Distance             float64 `json:"distance"`
	Title                float64 `json:"title"`
	ArtistName           float64 `json:"artistName"`
	TagPerKey            float64 `json:"tagOverlap"`
	ExternalID           float64 `json:"externalId"`
	DistanceCutoffMeters float64 `json:"distanceCutoffMeters"`
}

// Profile bundles weights with the thresholds used for band classification.
type Profile struct {
	Weights            Weights
	DuplicateThreshold float64
	WarningThreshold   float64
}

// DefaultWeights returns the standard signal weighting.
func DefaultWeights() Weights {
	return Weights{
		Distance:             0.3,
		Title:                0.2,
		ArtistName:           0.2,
		TagPerKey:            0.05,
		ExternalID:           0.5,
		DistanceCutoffMeters: 500,
	}
}

// DefaultProfile returns the standard profile: default weights with a 0.7
// duplicate threshold and a 0.55 warning threshold.
func DefaultProfile() Profile {
	return Profile{
		Weights:            DefaultWeights(),
		DuplicateThreshold: 0.7,
		WarningThreshold:   0.55,
	}
}

// Record is the scorer's view of either side of a comparison.
type Record struct {
	HasCoords  bool
	Lat        float64
	Lon        float64
	Title      string
	ArtistName string
	ExternalID string
	Tags       catalog.TagMap
}

// Signal is one scored similarity dimension.
type Signal struct {
	Type     SignalType `json:"type"`
	Raw      float64    `json:"rawScore"`
	Weighted float64    `json:"weightedScore"`
}

// Result is the outcome of scoring one candidate against a query.
type Result struct {
	CandidateID string   `json:"candidateId,omitempty"`
	Signals     []Signal `json:"signals"`
	Overall     float64  `json:"overallScore"`
	Band        Band     `json:"threshold"`
}

// Scorer is the pluggable scoring strategy.
type Scorer interface {
	Score(query, candidate Record, p Profile) Result
}

// WeightedScorer is the default multi-signal weighted scorer.
type WeightedScorer struct{}

// NewWeightedScorer creates the default scorer.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{}
}

// Score computes all signals, sums their weighted contributions, and
// classifies the total against the profile thresholds. A signal that cannot
// be computed (missing or non-finite inputs) contributes 0 rather than
// aborting the comparison.
func (s *WeightedScorer) Score(query, candidate Record, p Profile) Result {
	signals := []Signal{
		distanceSignal(query, candidate, p.Weights),
		titleSignal(query, candidate, p.Weights),
		artistSignal(query, candidate, p.Weights),
		tagSignal(query, candidate, p.Weights),
		externalIDSignal(query, candidate, p.Weights),
	}

	var overall float64
	for _, sig := range signals {
		overall += sig.Weighted
	}

	return Result{
		Signals: signals,
		Overall: overall,
		Band:    Classify(overall, p),
	}
}

// Classify maps an overall score to its threshold band.
func Classify(overall float64, p Profile) Band {
	switch {
	case overall >= p.DuplicateThreshold:
		return BandHigh
	case overall >= p.WarningThreshold:
		return BandWarning
	default:
		return BandNone
	}
}

// distanceSignal decays linearly from 1.0 at zero distance to 0 at the cutoff
// radius. Missing or non-finite coordinates degrade the signal to 0.
func distanceSignal(query, candidate Record, w Weights) Signal {
	sig := Signal{Type: SignalDistance}
	if !query.HasCoords || !candidate.HasCoords {
		return sig
	}
	if !finiteCoords(query.Lat, query.Lon) || !finiteCoords(candidate.Lat, candidate.Lon) {
		return sig
	}

	cutoff := w.DistanceCutoffMeters
	if cutoff <= 0 {
		cutoff = DefaultWeights().DistanceCutoffMeters
	}

	d := HaversineMeters(query.Lat, query.Lon, candidate.Lat, candidate.Lon)
	if d >= cutoff {
		return sig
	}
	sig.Raw = 1.0 - d/cutoff
	sig.Weighted = sig.Raw * w.Distance
	return sig
}

func titleSignal(query, candidate Record, w Weights) Signal {
	raw := Ratio(Normalize(query.Title), Normalize(candidate.Title))
	return Signal{Type: SignalTitle, Raw: raw, Weighted: raw * w.Title}
}

// artistSignal scores creator name similarity; absence on either side is 0,
// unlike titles where two blanks count as identical.
func artistSignal(query, candidate Record, w Weights) Signal {
	sig := Signal{Type: SignalArtistName}
	if strings.TrimSpace(query.ArtistName) == "" || strings.TrimSpace(candidate.ArtistName) == "" {
		return sig
	}
	sig.Raw = Ratio(Normalize(query.ArtistName), Normalize(candidate.ArtistName))
	sig.Weighted = sig.Raw * w.ArtistName
	return sig
}

// tagSignal adds the per-key weight for every tag key whose case-normalized
// value matches on both sides. The weighted contribution has no fixed ceiling
// beyond "all keys match"; the raw score is the matched fraction of the
// query's keys.
func tagSignal(query, candidate Record, w Weights) Signal {
	sig := Signal{Type: SignalTagOverlap}
	if len(query.Tags) == 0 || len(candidate.Tags) == 0 {
		return sig
	}

	candidateByKey := make(map[string]catalog.TagValue, len(candidate.Tags))
	for k, v := range candidate.Tags {
		candidateByKey[strings.ToLower(k)] = v
	}

	matched := 0
	for k, v := range query.Tags {
		cv, ok := candidateByKey[strings.ToLower(k)]
		if ok && v.Equal(cv) {
			matched++
		}
	}

	sig.Raw = float64(matched) / float64(len(query.Tags))
	sig.Weighted = float64(matched) * w.TagPerKey
	return sig
}

// externalIDSignal treats an exact source-system id match as near-decisive:
// full configured weight, never a fuzzy fraction.
func externalIDSignal(query, candidate Record, w Weights) Signal {
	sig := Signal{Type: SignalExternalID}
	q := strings.TrimSpace(query.ExternalID)
	c := strings.TrimSpace(candidate.ExternalID)
	if q == "" || c == "" || q != c {
		return sig
	}
	sig.Raw = 1.0
	sig.Weighted = w.ExternalID
	return sig
}

// earthRadiusMeters is the mean Earth radius.
const earthRadiusMeters = 6371000.0

// HaversineMeters computes the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func finiteCoords(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsInf(lat, 0) && !math.IsNaN(lon) && !math.IsInf(lon, 0)
}
