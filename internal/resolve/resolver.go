// Package resolve links free-text creator names referenced by artworks to
// catalog creators, auto-creating them when permitted.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/openartmap/openartmap/internal/catalog"
	"github.com/openartmap/openartmap/internal/similarity"
)

// Store is the creator lookup and write surface the resolver needs.
type Store interface {
	FindCreatorsByNameFragment(ctx context.Context, fragment string, limit int) ([]*catalog.Creator, error)
	CreateCreator(ctx context.Context, c *catalog.Creator) error
}

// Status is the outcome class of a resolution attempt.
type Status string

// Resolution statuses.
const (
	StatusLinked         Status = "linked"
	StatusCreated        Status = "created"
	StatusSearchRequired Status = "search_required"
	StatusAmbiguous      Status = "ambiguous"
)

// Candidate is one close-but-not-chosen match surfaced for human review.
type Candidate struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Resolution is the result of resolving a creator name.
type Resolution struct {
	Status     Status      `json:"status"`
	CreatorID  string      `json:"id,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	SearchURL  string      `json:"searchUrl,omitempty"`
}

// Options carries per-call resolution policy.
type Options struct {
	ImportID           string
	SourceArtworkID    string
	ActorID            string
	CreateMissing      bool
	DuplicateThreshold float64
	WarningThreshold   float64
}

// maxAmbiguousCandidates caps how many near matches are surfaced.
const maxAmbiguousCandidates = 5

// clearBestMargin is how far the best fuzzy match must lead the runner-up
// before it is linked without review.
const clearBestMargin = 0.05

// Resolver resolves creator names against the catalog.
type Resolver struct {
	store          Store
	searchURLBase  string
	candidateLimit int
	logger         *slog.Logger
}

// NewResolver creates a resolver. searchURLBase is the human search page that
// search_required resolutions point reviewers at.
func NewResolver(store Store, searchURLBase string, logger *slog.Logger) *Resolver {
	if searchURLBase == "" {
		searchURLBase = "/creators/search"
	}
	return &Resolver{
		store:          store,
		searchURLBase:  searchURLBase,
		candidateLimit: 25,
		logger:         logger.With(slog.String("component", "resolve")),
	}
}

// Resolve maps a free-text creator name to an existing creator, flags
// ambiguity across several close matches, auto-creates a new creator when
// permitted, or falls back to a manual-search pointer.
func (r *Resolver) Resolve(ctx context.Context, name string, opts Options) (Resolution, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Resolution{}, fmt.Errorf("creator name is empty")
	}

	candidates, err := r.lookup(ctx, trimmed)
	if err != nil {
		return Resolution{}, fmt.Errorf("looking up creator %q: %w", trimmed, err)
	}

	// Exact normalized match wins outright.
	norm := catalog.NormalizeName(trimmed)
	for _, c := range candidates {
		if catalog.NormalizeName(c.Name) == norm {
			return Resolution{Status: StatusLinked, CreatorID: c.ID}, nil
		}
	}

	scored := scoreCandidates(trimmed, candidates)
	near := above(scored, opts.WarningThreshold)
	strong := above(scored, opts.DuplicateThreshold)

	switch {
	case len(strong) == 1 && clearBest(near):
		return Resolution{Status: StatusLinked, CreatorID: strong[0].ID}, nil

	case len(strong) >= 1 || len(near) >= 2:
		// Multiple plausible matches cluster near the threshold. Never
		// auto-pick among them.
		if len(near) > maxAmbiguousCandidates {
			near = near[:maxAmbiguousCandidates]
		}
		return Resolution{Status: StatusAmbiguous, Candidates: near}, nil

	case opts.CreateMissing:
		c, err := r.autoCreate(ctx, trimmed, opts)
		if err != nil {
			return Resolution{}, fmt.Errorf("auto-creating creator %q: %w", trimmed, err)
		}
		return Resolution{Status: StatusCreated, CreatorID: c.ID}, nil

	default:
		return Resolution{
			Status:    StatusSearchRequired,
			SearchURL: r.searchURLBase + "?q=" + url.QueryEscape(trimmed),
		}, nil
	}
}

// lookup fetches candidates by the full normalized name, falling back to the
// longest token so near-miss spellings still surface neighbors.
func (r *Resolver) lookup(ctx context.Context, name string) ([]*catalog.Creator, error) {
	candidates, err := r.store.FindCreatorsByNameFragment(ctx, name, r.candidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	longest := ""
	for _, tok := range strings.Fields(catalog.NormalizeName(name)) {
		if len(tok) > len(longest) {
			longest = tok
		}
	}
	if longest == "" || longest == catalog.NormalizeName(name) {
		return nil, nil
	}
	return r.store.FindCreatorsByNameFragment(ctx, longest, r.candidateLimit)
}

func (r *Resolver) autoCreate(ctx context.Context, name string, opts Options) (*catalog.Creator, error) {
	c := &catalog.Creator{
		Name:      name,
		Source:    opts.ImportID + "-auto-created",
		CreatedBy: opts.ActorID,
		Tags: catalog.TagMap{
			"reason": catalog.StringTag("referenced_in_artwork"),
		},
	}
	if opts.SourceArtworkID != "" {
		c.Tags["sourceArtworkId"] = catalog.StringTag(opts.SourceArtworkID)
	}
	if err := r.store.CreateCreator(ctx, c); err != nil {
		return nil, err
	}
	r.logger.Info("auto-created creator",
		slog.String("creator_id", c.ID),
		slog.String("name", name),
		slog.String("import_id", opts.ImportID))
	return c, nil
}

// scoreCandidates ranks candidates by normalized name similarity, best first.
func scoreCandidates(name string, candidates []*catalog.Creator) []Candidate {
	scored := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, Candidate{
			ID:    c.ID,
			Name:  c.Name,
			Score: similarity.NameRatio(name, c.Name),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// above returns the candidates scoring at or over the threshold, preserving order.
func above(scored []Candidate, threshold float64) []Candidate {
	var out []Candidate
	for _, c := range scored {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// clearBest reports whether the top candidate leads the runner-up by the
// required margin.
func clearBest(scored []Candidate) bool {
	if len(scored) == 0 {
		return false
	}
	if len(scored) == 1 {
		return true
	}
	return scored[0].Score-scored[1].Score >= clearBestMargin
}
