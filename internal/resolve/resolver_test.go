package resolve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/openartmap/openartmap/internal/catalog"
)

type fakeStore struct {
	creators  []*catalog.Creator
	findErr   error
	created   []*catalog.Creator
	createErr error
}

func (f *fakeStore) FindCreatorsByNameFragment(ctx context.Context, fragment string, limit int) ([]*catalog.Creator, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	frag := strings.ToLower(fragment)
	var out []*catalog.Creator
	for _, c := range f.creators {
		if strings.Contains(strings.ToLower(c.Name), frag) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCreator(ctx context.Context, c *catalog.Creator) error {
	if f.createErr != nil {
		return f.createErr
	}
	c.ID = "cr-new"
	f.created = append(f.created, c)
	return nil
}

func newTestResolver(store *fakeStore) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(store, "/creators/search", logger)
}

func defaultOpts() Options {
	return Options{
		ImportID:           "job-1",
		ActorID:            "system:mass-import",
		DuplicateThreshold: 0.7,
		WarningThreshold:   0.55,
	}
}

func TestResolve_ExactNormalizedMatch(t *testing.T) {
	store := &fakeStore{creators: []*catalog.Creator{{ID: "cr-1", Name: "Jean-Michel Basquiat"}}}
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "  jean-michel   BASQUIAT ", defaultOpts())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusLinked || res.CreatorID != "cr-1" {
		t.Errorf("resolution = %+v, want linked to cr-1", res)
	}
}

func TestResolve_SingleStrongFuzzyMatch(t *testing.T) {
	store := &fakeStore{creators: []*catalog.Creator{{ID: "cr-1", Name: "Shepard Fairey"}}}
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "Shepard Fairy", defaultOpts())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusLinked || res.CreatorID != "cr-1" {
		t.Errorf("resolution = %+v, want linked to cr-1", res)
	}
}

func TestResolve_AmbiguousClusterNeverAutoPicks(t *testing.T) {
	store := &fakeStore{creators: []*catalog.Creator{
		{ID: "cr-1", Name: "John Smith"},
		{ID: "cr-2", Name: "John Smyth"},
	}}
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "John Sm", defaultOpts())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusAmbiguous {
		t.Fatalf("status = %q, want %q (got %+v)", res.Status, StatusAmbiguous, res)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("candidates = %d, want 2", len(res.Candidates))
	}
	if res.CreatorID != "" {
		t.Errorf("CreatorID = %q, must be empty when ambiguous", res.CreatorID)
	}
}

func TestResolve_AmbiguousCandidatesCapped(t *testing.T) {
	var creators []*catalog.Creator
	for _, suffix := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		creators = append(creators, &catalog.Creator{ID: "cr-" + suffix, Name: "Maria Gonzale" + suffix})
	}
	r := newTestResolver(&fakeStore{creators: creators})

	res, err := r.Resolve(context.Background(), "Maria Gonzale", defaultOpts())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusAmbiguous {
		t.Fatalf("status = %q, want ambiguous", res.Status)
	}
	if len(res.Candidates) > maxAmbiguousCandidates {
		t.Errorf("candidates = %d, want at most %d", len(res.Candidates), maxAmbiguousCandidates)
	}
}

func TestResolve_AutoCreateCarriesProvenance(t *testing.T) {
	store := &fakeStore{}
	r := newTestResolver(store)

	opts := defaultOpts()
	opts.CreateMissing = true
	opts.SourceArtworkID = "aw-7"
	res, err := r.Resolve(context.Background(), "Unknown Muralist", opts)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusCreated || res.CreatorID != "cr-new" {
		t.Fatalf("resolution = %+v, want created", res)
	}

	if len(store.created) != 1 {
		t.Fatalf("created %d creators, want 1", len(store.created))
	}
	c := store.created[0]
	if c.Source != "job-1-auto-created" {
		t.Errorf("Source = %q", c.Source)
	}
	if c.CreatedBy != "system:mass-import" {
		t.Errorf("CreatedBy = %q", c.CreatedBy)
	}
	if !c.Tags["reason"].Equal(catalog.StringTag("referenced_in_artwork")) {
		t.Errorf("reason tag = %+v", c.Tags["reason"])
	}
	if !c.Tags["sourceArtworkId"].Equal(catalog.StringTag("aw-7")) {
		t.Errorf("sourceArtworkId tag = %+v", c.Tags["sourceArtworkId"])
	}
}

func TestResolve_SearchRequiredEncodesName(t *testing.T) {
	r := newTestResolver(&fakeStore{})

	res, err := r.Resolve(context.Background(), "Gilbert & George", defaultOpts())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusSearchRequired {
		t.Fatalf("status = %q, want %q", res.Status, StatusSearchRequired)
	}
	if want := "/creators/search?q=Gilbert+%26+George"; res.SearchURL != want {
		t.Errorf("SearchURL = %q, want %q", res.SearchURL, want)
	}
}

func TestResolve_SearchRequiredEncodesNonASCII(t *testing.T) {
	r := newTestResolver(&fakeStore{})

	res, err := r.Resolve(context.Background(), "Joan Miró", defaultOpts())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "/creators/search?q=Joan+Mir%C3%B3"; res.SearchURL != want {
		t.Errorf("SearchURL = %q, want %q", res.SearchURL, want)
	}
}

func TestResolve_EmptyNameIsError(t *testing.T) {
	r := newTestResolver(&fakeStore{})
	if _, err := r.Resolve(context.Background(), "   ", defaultOpts()); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestResolve_LookupErrorPropagates(t *testing.T) {
	r := newTestResolver(&fakeStore{findErr: errors.New("db gone")})
	if _, err := r.Resolve(context.Background(), "Banksy", defaultOpts()); err == nil {
		t.Error("expected lookup error to propagate")
	}
}

func TestResolve_TokenFallbackFindsNeighbors(t *testing.T) {
	// A full-string lookup for the longer variant finds nothing; the
	// longest-token fallback still surfaces the stored neighbor.
	store := &fakeStore{creators: []*catalog.Creator{{ID: "cr-1", Name: "Wide Open Walls"}}}
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "wide open walls mural", defaultOpts())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusLinked || res.CreatorID != "cr-1" {
		t.Errorf("resolution = %+v, want linked via token fallback", res)
	}
}
