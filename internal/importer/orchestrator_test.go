package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/openartmap/openartmap/internal/catalog"
	"github.com/openartmap/openartmap/internal/database"
	"github.com/openartmap/openartmap/internal/dedupe"
	"github.com/openartmap/openartmap/internal/photos"
	"github.com/openartmap/openartmap/internal/resolve"
	"github.com/openartmap/openartmap/internal/similarity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupCatalog(t *testing.T) *catalog.Service {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return catalog.NewService(db)
}

func newTestOrchestrator(t *testing.T, svc *catalog.Service, store Store, pipeline PhotoPipeline) *Orchestrator {
	t.Helper()
	logger := testLogger()
	detector := dedupe.NewDetector(svc, similarity.NewWeightedScorer(), dedupe.DefaultOptions(), logger)
	resolver := resolve.NewResolver(svc, "/creators/search", logger)
	if store == nil {
		store = svc
	}
	return NewOrchestrator(store, detector, resolver, pipeline, nil, logger)
}

func artworkJob(n int) *Job {
	j := &Job{
		ImportID: "job-test",
		Source:   SourceInfo{Plugin: "osm-sync", Version: "1.2"},
	}
	for i := range n {
		// Spread records out so no two sit in the same spot.
		j.Artworks = append(j.Artworks, ArtworkImportRecord{
			Lat:        ptr(38.50 + float64(i)*0.01),
			Lon:        ptr(-121.49),
			Title:      fmt.Sprintf("Mural %d", i),
			ExternalID: fmt.Sprintf("node/%d", i),
		})
	}
	return j
}

func TestRun_LargeJobSucceeds(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	job := artworkJob(100)
	res, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Summary.TotalRequested != 100 {
		t.Errorf("TotalRequested = %d, want 100", res.Summary.TotalRequested)
	}
	if res.Summary.TotalSucceeded != 100 {
		t.Errorf("TotalSucceeded = %d, want 100", res.Summary.TotalSucceeded)
	}
	if res.Summary.TotalFailed != 0 || res.Summary.TotalDuplicates != 0 {
		t.Errorf("failed/duplicates = %d/%d, want 0/0", res.Summary.TotalFailed, res.Summary.TotalDuplicates)
	}
	if res.Summary.ProcessingTimeMs < 1 {
		t.Errorf("ProcessingTimeMs = %d, want >= 1", res.Summary.ProcessingTimeMs)
	}
	if len(res.Created) != 100 {
		t.Errorf("Created = %d entries, want 100", len(res.Created))
	}
	// 100 records at the default batch size of 25.
	if res.Audit.BatchesProcessed != 4 {
		t.Errorf("BatchesProcessed = %d, want 4", res.Audit.BatchesProcessed)
	}
	if res.Audit.SystemActorID != SystemActorID {
		t.Errorf("SystemActorID = %q", res.Audit.SystemActorID)
	}

	audit, err := svc.GetImportAudit(context.Background(), "job-test")
	if err != nil {
		t.Fatalf("GetImportAudit: %v", err)
	}
	if audit.TotalSucceeded != 100 || audit.ActorID != SystemActorID {
		t.Errorf("persisted audit = %+v", audit)
	}
}

func TestRun_RepeatJobIsAllDuplicates(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)
	ctx := context.Background()

	if _, err := o.Run(ctx, artworkJob(20)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	res, err := o.Run(ctx, artworkJob(20))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Summary.TotalDuplicates != 20 {
		t.Errorf("TotalDuplicates = %d, want 20", res.Summary.TotalDuplicates)
	}
	if res.Summary.TotalSucceeded != 0 {
		t.Errorf("TotalSucceeded = %d, want 0 on rerun", res.Summary.TotalSucceeded)
	}
	for _, d := range res.Duplicates {
		if d.ExistingID == "" {
			t.Errorf("duplicate outcome %d missing ExistingID", d.Index)
		}
		if d.Confidence < 0.7 {
			t.Errorf("duplicate outcome %d confidence = %v, want >= 0.7", d.Index, d.Confidence)
		}
	}
}

func TestRun_IdenticalRecordsWithinOneJob(t *testing.T) {
	// Two copies of the same artwork in one job: the cell lock serializes
	// detection and creation, so exactly one wins.
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	job := artworkJob(1)
	job.Artworks = append(job.Artworks, job.Artworks[0])

	res, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.TotalSucceeded != 1 || res.Summary.TotalDuplicates != 1 {
		t.Errorf("succeeded/duplicates = %d/%d, want 1/1",
			res.Summary.TotalSucceeded, res.Summary.TotalDuplicates)
	}
}

func TestRun_CreatorsBeforeArtworks(t *testing.T) {
	// The artwork references a creator delivered in the same job. Creators
	// are processed first, so the artwork links instead of falling through
	// to search.
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	job := artworkJob(1)
	job.Artworks[0].ArtistName = "Lisa Project Collective"
	job.Creators = []CreatorImportRecord{{Name: "Lisa Project Collective"}}

	res, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.TotalSucceeded != 2 {
		t.Fatalf("TotalSucceeded = %d, want 2 (%+v)", res.Summary.TotalSucceeded, res.Failed)
	}
	if len(res.AutoCreated) != 0 {
		t.Errorf("AutoCreated = %+v, creator came from the job itself", res.AutoCreated)
	}

	var artworkID string
	for _, out := range res.Created {
		if out.Kind == KindArtwork {
			artworkID = out.ID
		}
	}
	linked, err := svc.ListArtworkCreators(context.Background(), artworkID)
	if err != nil {
		t.Fatalf("ListArtworkCreators: %v", err)
	}
	if len(linked) != 1 {
		t.Errorf("artwork has %d creator links, want 1", len(linked))
	}
}

func TestRun_AutoCreatesReferencedArtist(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	job := artworkJob(1)
	job.Artworks[0].ArtistName = "Unknown Muralist"
	job.Config.CreateMissingArtists = true

	res, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.AutoCreated) != 1 {
		t.Fatalf("AutoCreated = %+v, want 1 entry", res.AutoCreated)
	}
	auto := res.AutoCreated[0]
	if auto.Name != "Unknown Muralist" || auto.ID == "" || auto.SourceArtworkID == "" {
		t.Errorf("AutoCreated[0] = %+v", auto)
	}
	if res.Audit.ArtistsAutoCreated != 1 {
		t.Errorf("ArtistsAutoCreated = %d, want 1", res.Audit.ArtistsAutoCreated)
	}

	creator, err := svc.GetCreatorByID(context.Background(), auto.ID)
	if err != nil {
		t.Fatalf("GetCreatorByID: %v", err)
	}
	if !creator.Tags["reason"].Equal(catalog.StringTag("referenced_in_artwork")) {
		t.Errorf("reason tag = %+v", creator.Tags["reason"])
	}
	if creator.CreatedBy != SystemActorID {
		t.Errorf("CreatedBy = %q, want %q", creator.CreatedBy, SystemActorID)
	}

	linked, err := svc.ListArtworkCreators(context.Background(), auto.SourceArtworkID)
	if err != nil {
		t.Fatalf("ListArtworkCreators: %v", err)
	}
	if len(linked) != 1 || linked[0] != auto.ID {
		t.Errorf("links = %v, want [%s]", linked, auto.ID)
	}
}

func TestRun_UnresolvedArtistBecomesWarning(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	job := artworkJob(1)
	job.Artworks[0].ArtistName = "Nobody Known"

	res, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.TotalSucceeded != 1 {
		t.Fatalf("artwork should still be created: %+v", res.Failed)
	}
	if len(res.Created) != 1 || len(res.Created[0].Warnings) == 0 {
		t.Errorf("Created[0] = %+v, want a search warning", res.Created)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)
	ctx := context.Background()

	job := artworkJob(5)
	job.Config.DryRun = true
	res, err := o.Run(ctx, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !res.DryRun {
		t.Error("DryRun flag not echoed")
	}
	if res.Summary.TotalSucceeded != 5 {
		t.Errorf("TotalSucceeded = %d, want 5 would-be creations", res.Summary.TotalSucceeded)
	}
	if len(res.Created) != 0 {
		t.Errorf("Created = %+v, must be empty on a dry run", res.Created)
	}

	stored, err := svc.FindNearbyArtworks(ctx, 38.52, -121.49, 100000, 50)
	if err != nil {
		t.Fatalf("FindNearbyArtworks: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("dry run persisted %d artworks", len(stored))
	}
	if _, err := svc.GetImportAudit(ctx, job.ImportID); err == nil {
		t.Error("dry run persisted an audit row")
	}
}

func TestRun_InvalidJobIsRejectedBeforeWrites(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)
	ctx := context.Background()

	job := artworkJob(2)
	job.Artworks[1].Lat = ptr(200)

	_, err := o.Run(ctx, job)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	stored, err := svc.FindNearbyArtworks(ctx, 38.50, -121.49, 100000, 50)
	if err != nil {
		t.Fatalf("FindNearbyArtworks: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("rejected job persisted %d artworks", len(stored))
	}
}

// failingStore passes writes through to the catalog except for one poisoned
// artwork title.
type failingStore struct {
	*catalog.Service
	failTitle string
}

func (f *failingStore) CreateArtwork(ctx context.Context, a *catalog.Artwork) error {
	if a.Title == f.failTitle {
		return errors.New("disk full")
	}
	return f.Service.CreateArtwork(ctx, a)
}

func TestRun_RecordFailureIsIsolated(t *testing.T) {
	svc := setupCatalog(t)
	store := &failingStore{Service: svc, failTitle: "Mural 3"}
	o := newTestOrchestrator(t, svc, store, nil)

	res, err := o.Run(context.Background(), artworkJob(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.TotalFailed != 1 {
		t.Fatalf("TotalFailed = %d, want 1 (%+v)", res.Summary.TotalFailed, res.Failed)
	}
	if res.Summary.TotalSucceeded != 9 {
		t.Errorf("TotalSucceeded = %d, want 9", res.Summary.TotalSucceeded)
	}
	failed := res.Failed[0]
	if failed.Title != "Mural 3" || failed.ErrorCode != "storage_error" {
		t.Errorf("Failed[0] = %+v", failed)
	}
}

func TestRun_CanceledContextFailsRemainingRecords(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, artworkJob(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.TotalFailed != 10 {
		t.Fatalf("TotalFailed = %d, want 10", res.Summary.TotalFailed)
	}
	for _, f := range res.Failed {
		if f.ErrorCode != "job_canceled" {
			t.Errorf("Failed[%d].ErrorCode = %q, want job_canceled", f.Index, f.ErrorCode)
		}
	}
}

// fakePipeline serves canned photo results by URL.
type fakePipeline struct {
	failURL string
}

func (f *fakePipeline) FetchAndStore(ctx context.Context, url string) (photos.StoredPhoto, error) {
	if url == f.failURL {
		return photos.StoredPhoto{}, errors.New("http 500")
	}
	return photos.StoredPhoto{Ref: "stored/" + url, Format: "jpeg", Bytes: 1024}, nil
}

func TestRun_PhotoFailureIsWarningNotFailure(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, &fakePipeline{failURL: "https://example.org/bad.jpg"})

	job := artworkJob(1)
	job.Artworks[0].Photos = []PhotoRef{
		{URL: "https://example.org/good.jpg"},
		{URL: "https://example.org/bad.jpg"},
	}

	res, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.TotalSucceeded != 1 {
		t.Fatalf("artwork must survive photo failures: %+v", res.Failed)
	}
	if res.Audit.PhotosUploaded != 1 || res.Audit.PhotosFailed != 1 {
		t.Errorf("photos uploaded/failed = %d/%d, want 1/1",
			res.Audit.PhotosUploaded, res.Audit.PhotosFailed)
	}
	if len(res.Created[0].Warnings) != 1 {
		t.Errorf("Warnings = %v, want one photo warning", res.Created[0].Warnings)
	}
}

func TestRun_DuplicateMergesTags(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)
	ctx := context.Background()

	first := artworkJob(1)
	first.Artworks[0].Tags = catalog.TagMap{"material": catalog.StringTag("brick")}
	res1, err := o.Run(ctx, first)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	existingID := res1.Created[0].ID

	second := artworkJob(1)
	second.Artworks[0].Tags = catalog.TagMap{
		"material": catalog.StringTag("concrete"),
		"year":     catalog.NumberTag(2019),
	}
	second.Config.EnableTagMerging = true

	res2, err := o.Run(ctx, second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res2.Summary.TotalDuplicates != 1 {
		t.Fatalf("TotalDuplicates = %d, want 1", res2.Summary.TotalDuplicates)
	}
	dup := res2.Duplicates[0]
	if dup.TagsMerged == nil || dup.TagsMerged.NewTagsAdded != 1 {
		t.Errorf("TagsMerged = %+v, want 1 new tag", dup.TagsMerged)
	}
	if res2.Audit.TagsMerged != 1 {
		t.Errorf("audit TagsMerged = %d, want 1", res2.Audit.TagsMerged)
	}

	stored, err := svc.GetArtworkByID(ctx, existingID)
	if err != nil {
		t.Fatalf("GetArtworkByID: %v", err)
	}
	if !stored.Tags["material"].Equal(catalog.StringTag("brick")) {
		t.Errorf("material = %+v, existing value must survive the merge", stored.Tags["material"])
	}
	if !stored.Tags["year"].Equal(catalog.NumberTag(2019)) {
		t.Errorf("year tag missing after merge: %+v", stored.Tags)
	}
}

func TestRun_GeneratesImportID(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	job := artworkJob(1)
	job.ImportID = ""
	res, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ImportID == "" {
		t.Error("expected a generated import id")
	}
}

func TestRun_AuditTimesAreOrdered(t *testing.T) {
	svc := setupCatalog(t)
	o := newTestOrchestrator(t, svc, nil, nil)

	before := time.Now().UTC()
	res, err := o.Run(context.Background(), artworkJob(3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Audit.ImportStarted.Before(before.Add(-time.Second)) {
		t.Errorf("ImportStarted = %v, want near %v", res.Audit.ImportStarted, before)
	}
	if res.Audit.ImportCompleted.Before(res.Audit.ImportStarted) {
		t.Error("ImportCompleted precedes ImportStarted")
	}
}
