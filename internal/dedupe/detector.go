// Package dedupe decides whether an incoming import record duplicates an
// existing catalog entry.
package dedupe

import (
	"context"
	"log/slog"
	"math"

	"github.com/openartmap/openartmap/internal/catalog"
	"github.com/openartmap/openartmap/internal/similarity"
)

// Store is the candidate lookup surface the detector needs. The catalog is
// the single source of truth per call; no caching happens here.
type Store interface {
	FindNearbyArtworks(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]*catalog.Artwork, error)
	FindCreatorsByNameFragment(ctx context.Context, fragment string, limit int) ([]*catalog.Creator, error)
	MergeTags(ctx context.Context, artworkID string, incoming catalog.TagMap) (catalog.MergeStats, error)
}

// Options tunes candidate retrieval.
type Options struct {
	SearchRadiusMeters float64
	CandidateLimit     int
}

// DefaultOptions returns the standard retrieval window.
func DefaultOptions() Options {
	return Options{
		SearchRadiusMeters: 500,
		CandidateLimit:     50,
	}
}

// Report is the outcome of a duplicate check.
type Report struct {
	IsDuplicate       bool                `json:"isDuplicate"`
	ExistingID        string              `json:"existingId,omitempty"`
	Confidence        float64             `json:"confidenceScore"`
	Band              similarity.Band     `json:"threshold"`
	Breakdown         []similarity.Signal `json:"scoreBreakdown,omitempty"`
	CandidatesChecked int                 `json:"candidatesChecked"`
	TagMerge          *catalog.MergeStats `json:"tagsMerged,omitempty"`
}

// Detector wraps the scoring engine with candidate retrieval and threshold
// policy.
type Detector struct {
	store  Store
	scorer similarity.Scorer
	opts   Options
	logger *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(store Store, scorer similarity.Scorer, opts Options, logger *slog.Logger) *Detector {
	if opts.SearchRadiusMeters <= 0 {
		opts.SearchRadiusMeters = DefaultOptions().SearchRadiusMeters
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = DefaultOptions().CandidateLimit
	}
	return &Detector{
		store:  store,
		scorer: scorer,
		opts:   opts,
		logger: logger.With(slog.String("component", "dedupe")),
	}
}

// CheckArtwork retrieves candidates in a spatial window around the query and
// scores each one. A retrieval failure or malformed query degrades to "not a
// duplicate" rather than failing the record: an import must never hard-fail
// merely because similarity checking could not run.
func (d *Detector) CheckArtwork(ctx context.Context, query similarity.Record, p similarity.Profile, mergeTags bool) Report {
	if !query.HasCoords || math.IsNaN(query.Lat) || math.IsNaN(query.Lon) ||
		math.IsInf(query.Lat, 0) || math.IsInf(query.Lon, 0) {
		d.logger.Warn("duplicate check skipped, query has no usable coordinates",
			slog.String("title", query.Title))
		return Report{Band: similarity.BandNone}
	}

	candidates, err := d.store.FindNearbyArtworks(ctx, query.Lat, query.Lon,
		d.opts.SearchRadiusMeters, d.opts.CandidateLimit)
	if err != nil {
		d.logger.Warn("candidate retrieval failed, treating record as unique",
			slog.String("title", query.Title), slog.Any("error", err))
		return Report{Band: similarity.BandNone}
	}
	if len(candidates) == 0 {
		return Report{Band: similarity.BandNone}
	}

	var best similarity.Result
	for _, c := range candidates {
		res := d.scorer.Score(query, artworkRecord(c), p)
		res.CandidateID = c.ID
		if res.Overall > best.Overall || best.CandidateID == "" {
			best = res
		}
	}

	report := Report{
		ExistingID:        best.CandidateID,
		Confidence:        best.Overall,
		Band:              best.Band,
		Breakdown:         best.Signals,
		CandidatesChecked: len(candidates),
	}
	if best.Band != similarity.BandHigh {
		report.ExistingID = ""
		return report
	}

	report.IsDuplicate = true
	if mergeTags && len(query.Tags) > 0 {
		stats, err := d.store.MergeTags(ctx, best.CandidateID, query.Tags)
		if err != nil {
			d.logger.Warn("tag merge failed",
				slog.String("artwork_id", best.CandidateID), slog.Any("error", err))
		} else {
			report.TagMerge = &stats
		}
	}
	return report
}

// CheckCreator compares the query name directly against candidate creator
// names sharing a fragment. Name similarity is measured against the duplicate
// threshold without weighting; an exact external-id match is decisive.
func (d *Detector) CheckCreator(ctx context.Context, name, externalID string, p similarity.Profile) Report {
	candidates, err := d.store.FindCreatorsByNameFragment(ctx, name, d.opts.CandidateLimit)
	if err != nil {
		d.logger.Warn("creator candidate retrieval failed, treating record as unique",
			slog.String("name", name), slog.Any("error", err))
		return Report{Band: similarity.BandNone}
	}
	if len(candidates) == 0 {
		return Report{Band: similarity.BandNone}
	}

	var best similarity.Result
	for _, c := range candidates {
		ratio := similarity.NameRatio(name, c.Name)
		res := similarity.Result{
			CandidateID: c.ID,
			Overall:     ratio,
			Signals: []similarity.Signal{
				{Type: similarity.SignalArtistName, Raw: ratio, Weighted: ratio},
			},
		}
		if externalID != "" && externalID == c.ExternalID {
			res.Overall = 1.0
			res.Signals = append(res.Signals,
				similarity.Signal{Type: similarity.SignalExternalID, Raw: 1.0, Weighted: 1.0})
		}
		if res.Overall > best.Overall || best.CandidateID == "" {
			best = res
		}
	}
	best.Band = similarity.Classify(best.Overall, p)

	report := Report{
		Confidence:        best.Overall,
		Band:              best.Band,
		Breakdown:         best.Signals,
		CandidatesChecked: len(candidates),
	}
	if best.Band == similarity.BandHigh {
		report.IsDuplicate = true
		report.ExistingID = best.CandidateID
	}
	return report
}

// artworkRecord adapts a stored artwork to the scorer's view.
func artworkRecord(a *catalog.Artwork) similarity.Record {
	return similarity.Record{
		HasCoords:  true,
		Lat:        a.Lat,
		Lon:        a.Lon,
		Title:      a.Title,
		ArtistName: a.ArtistName,
		ExternalID: a.ExternalID,
		Tags:       a.Tags,
	}
}
