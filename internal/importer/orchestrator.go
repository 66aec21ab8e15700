package importer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openartmap/openartmap/internal/catalog"
	"github.com/openartmap/openartmap/internal/dedupe"
	"github.com/openartmap/openartmap/internal/event"
	"github.com/openartmap/openartmap/internal/photos"
	"github.com/openartmap/openartmap/internal/resolve"
	"github.com/openartmap/openartmap/internal/similarity"
)

// Store is the write surface the orchestrator consumes. Each operation fails
// independently and is caught per record.
type Store interface {
	CreateArtwork(ctx context.Context, a *catalog.Artwork) error
	CreateCreator(ctx context.Context, c *catalog.Creator) error
	LinkArtworkCreator(ctx context.Context, artworkID, creatorID, role string) error
	AddArtworkPhoto(ctx context.Context, p *catalog.ArtworkPhoto) error
	SaveImportAudit(ctx context.Context, a *catalog.ImportAudit) error
}

// PhotoPipeline is the opaque photo service: URL in, stored reference or
// error out. Failures are non-fatal to the owning record.
type PhotoPipeline interface {
	FetchAndStore(ctx context.Context, url string) (photos.StoredPhoto, error)
}

// Orchestrator is the top-level entry point for import jobs.
type Orchestrator struct {
	store    Store
	detector *dedupe.Detector
	resolver *resolve.Resolver
	photos   PhotoPipeline
	bus      *event.Bus
	logger   *slog.Logger
}

// NewOrchestrator wires the import pipeline. photos and bus may be nil when
// the deployment has no photo storage or no event subscribers.
func NewOrchestrator(store Store, detector *dedupe.Detector, resolver *resolve.Resolver, photoPipeline PhotoPipeline, bus *event.Bus, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		detector: detector,
		resolver: resolver,
		photos:   photoPipeline,
		bus:      bus,
		logger:   logger.With(slog.String("component", "importer")),
	}
}

// recordStats carries per-record audit deltas merged at batch boundaries, so
// workers never contend on shared counters.
type recordStats struct {
	photosDownloaded int
	photosUploaded   int
	photosFailed     int
	tagsMerged       int
	autoCreated      []AutoCreatedArtist
}

// Run validates and processes one job. A structural validation failure
// rejects the whole job before any write; everything after validation is
// per-record: one bad record never aborts the batch.
func (o *Orchestrator) Run(ctx context.Context, job *Job) (*Result, error) {
	job.Config.ApplyDefaults()
	if job.ImportID == "" {
		job.ImportID = fmt.Sprintf("import-%d", time.Now().UTC().UnixNano())
	}

	if verr := job.Validate(); verr != nil {
		o.logger.Warn("import job rejected",
			slog.String("import_id", job.ImportID),
			slog.Int("violations", len(verr.Errors)))
		o.publish(event.ImportRejected, map[string]any{
			"importId":   job.ImportID,
			"violations": len(verr.Errors),
		})
		return nil, verr
	}

	start := time.Now().UTC()
	res := &Result{
		ImportID:    job.ImportID,
		DryRun:      job.Config.DryRun,
		Created:     []Outcome{},
		Duplicates:  []Outcome{},
		Failed:      []Outcome{},
		AutoCreated: []AutoCreatedArtist{},
		Audit: AuditTrail{
			ImportStarted: start,
			SystemActorID: SystemActorID,
		},
	}
	res.Summary.TotalRequested = len(job.Artworks) + len(job.Creators)

	o.logger.Info("import job started",
		slog.String("import_id", job.ImportID),
		slog.String("source", job.Source.String()),
		slog.Int("artworks", len(job.Artworks)),
		slog.Int("creators", len(job.Creators)),
		slog.Bool("dry_run", job.Config.DryRun))
	o.publish(event.ImportStarted, map[string]any{
		"importId": job.ImportID,
		"records":  res.Summary.TotalRequested,
	})

	profile := job.Config.Profile()
	locks := newKeyedLocks()

	// Creators present in the job go first so artworks referencing them by
	// name resolve against fresh entries.
	o.runBatches(ctx, job, res, len(job.Creators), func(ctx context.Context, i int) (Outcome, recordStats) {
		return o.processCreator(ctx, job, profile, locks, i)
	}, func(i int) Outcome {
		return canceledOutcome(KindCreator, i, job.Creators[i].Name)
	})
	o.runBatches(ctx, job, res, len(job.Artworks), func(ctx context.Context, i int) (Outcome, recordStats) {
		return o.processArtwork(ctx, job, profile, locks, i)
	}, func(i int) Outcome {
		return canceledOutcome(KindArtwork, i, job.Artworks[i].Title)
	})

	res.Audit.ImportCompleted = time.Now().UTC()
	res.Summary.ProcessingTimeMs = time.Since(start).Milliseconds()
	if res.Summary.ProcessingTimeMs < 1 {
		res.Summary.ProcessingTimeMs = 1
	}

	if !job.Config.DryRun {
		audit := &catalog.ImportAudit{
			ImportID:        job.ImportID,
			Source:          job.Source.String(),
			ActorID:         SystemActorID,
			StartedAt:       res.Audit.ImportStarted,
			CompletedAt:     res.Audit.ImportCompleted,
			Batches:         res.Audit.BatchesProcessed,
			TotalRequested:  res.Summary.TotalRequested,
			TotalSucceeded:  res.Summary.TotalSucceeded,
			TotalFailed:     res.Summary.TotalFailed,
			TotalDuplicates: res.Summary.TotalDuplicates,
			TagsMerged:      res.Audit.TagsMerged,
			ArtistsCreated:  res.Audit.ArtistsAutoCreated,
			PhotosStored:    res.Audit.PhotosUploaded,
			PhotosFailed:    res.Audit.PhotosFailed,
		}
		if err := o.store.SaveImportAudit(ctx, audit); err != nil {
			o.logger.Warn("persisting import audit failed",
				slog.String("import_id", job.ImportID), slog.Any("error", err))
		}
	}

	o.logger.Info("import job completed",
		slog.String("import_id", job.ImportID),
		slog.Int("succeeded", res.Summary.TotalSucceeded),
		slog.Int("duplicates", res.Summary.TotalDuplicates),
		slog.Int("failed", res.Summary.TotalFailed),
		slog.Int64("elapsed_ms", res.Summary.ProcessingTimeMs))
	o.publish(event.ImportCompleted, map[string]any{
		"importId":   job.ImportID,
		"succeeded":  res.Summary.TotalSucceeded,
		"duplicates": res.Summary.TotalDuplicates,
		"failed":     res.Summary.TotalFailed,
	})

	return res, nil
}

// runBatches processes total records through fn in chunks of BatchSize with
// up to MaxWorkers concurrent records per chunk. Workers write to their own
// slot; results merge at the batch boundary. Once the job context expires no
// new batch starts, but the in-flight batch drains.
func (o *Orchestrator) runBatches(ctx context.Context, job *Job, res *Result, total int, fn func(ctx context.Context, i int) (Outcome, recordStats), canceled func(i int) Outcome) {
	batchSize := job.Config.BatchSize
	for offset := 0; offset < total; offset += batchSize {
		if ctx.Err() != nil {
			for i := offset; i < total; i++ {
				o.mergeOutcome(res, canceled(i), recordStats{})
			}
			return
		}

		end := offset + batchSize
		if end > total {
			end = total
		}

		outcomes := make([]Outcome, end-offset)
		stats := make([]recordStats, end-offset)

		var g errgroup.Group
		g.SetLimit(job.Config.MaxWorkers)
		for i := offset; i < end; i++ {
			slot := i - offset
			idx := i
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						o.logger.Error("record processing panicked",
							slog.String("import_id", job.ImportID),
							slog.Int("index", idx),
							slog.Any("panic", r))
						outcomes[slot] = Outcome{
							Index:     idx,
							Status:    StatusFailed,
							ErrorCode: "internal_error",
							Message:   fmt.Sprintf("record processing panicked: %v", r),
						}
					}
				}()
				outcomes[slot], stats[slot] = fn(ctx, idx)
				return nil
			})
		}
		_ = g.Wait()

		for i := range outcomes {
			o.mergeOutcome(res, outcomes[i], stats[i])
		}
		res.Audit.BatchesProcessed++
	}
}

// mergeOutcome folds one record outcome and its audit deltas into the result.
func (o *Orchestrator) mergeOutcome(res *Result, out Outcome, st recordStats) {
	switch out.Status {
	case StatusCreated:
		res.Summary.TotalSucceeded++
		// Dry runs report would-be creations only through the summary.
		if !res.DryRun {
			res.Created = append(res.Created, out)
		}
	case StatusDuplicate:
		res.Summary.TotalDuplicates++
		res.Duplicates = append(res.Duplicates, out)
	case StatusFailed:
		res.Summary.TotalFailed++
		res.Failed = append(res.Failed, out)
	}

	res.Audit.PhotosDownloaded += st.photosDownloaded
	res.Audit.PhotosUploaded += st.photosUploaded
	res.Audit.PhotosFailed += st.photosFailed
	res.Audit.TagsMerged += st.tagsMerged
	res.Audit.ArtistsAutoCreated += len(st.autoCreated)
	res.AutoCreated = append(res.AutoCreated, st.autoCreated...)
}

// processArtwork runs one artwork record through detection, creation, photo
// storage, and artist resolution. Detection and creation hold the record's
// spatial cell lock so two near-identical records in one batch cannot both
// pass the duplicate check.
func (o *Orchestrator) processArtwork(ctx context.Context, job *Job, profile similarity.Profile, locks *keyedLocks, i int) (Outcome, recordStats) {
	rec := &job.Artworks[i]
	out := Outcome{Kind: KindArtwork, Index: i, Title: rec.Title}
	st := recordStats{}
	cfg := job.Config

	query := similarity.Record{
		HasCoords:  true,
		Lat:        *rec.Lat,
		Lon:        *rec.Lon,
		Title:      rec.Title,
		ArtistName: rec.ArtistName,
		ExternalID: rec.ExternalID,
		Tags:       rec.Tags,
	}

	unlock := locks.lock(cellKey(*rec.Lat, *rec.Lon))
	report := o.detector.CheckArtwork(ctx, query, profile, cfg.EnableTagMerging && !cfg.DryRun)
	if report.IsDuplicate {
		unlock()
		out.Status = StatusDuplicate
		out.ExistingID = report.ExistingID
		out.Confidence = report.Confidence
		out.Breakdown = report.Breakdown
		out.TagsMerged = report.TagMerge
		if report.TagMerge != nil {
			st.tagsMerged += report.TagMerge.NewTagsAdded
		}
		o.publish(event.ArtworkDuplicate, map[string]any{
			"importId":   job.ImportID,
			"existingId": report.ExistingID,
			"confidence": report.Confidence,
		})
		return out, st
	}

	if cfg.DryRun {
		unlock()
		out.Status = StatusCreated
		return out, st
	}

	artwork := &catalog.Artwork{
		Title:       rec.Title,
		Description: rec.Description,
		Lat:         *rec.Lat,
		Lon:         *rec.Lon,
		ArtistName:  rec.ArtistName,
		Tags:        rec.Tags,
		Source:      sourceFor(rec.Source, job),
		SourceURL:   rec.SourceURL,
		ExternalID:  rec.ExternalID,
		License:     rec.License,
		CreatedBy:   SystemActorID,
	}
	err := o.store.CreateArtwork(ctx, artwork)
	unlock()
	if err != nil {
		o.logger.Error("creating artwork failed",
			slog.String("import_id", job.ImportID),
			slog.String("title", rec.Title),
			slog.Any("error", err))
		out.Status = StatusFailed
		out.ErrorCode = "storage_error"
		out.Message = err.Error()
		return out, st
	}
	out.Status = StatusCreated
	out.ID = artwork.ID
	o.publish(event.ArtworkCreated, map[string]any{
		"importId":  job.ImportID,
		"artworkId": artwork.ID,
	})

	o.storePhotos(ctx, job, rec, artwork.ID, &out, &st)
	o.resolveArtist(ctx, job, rec, artwork.ID, &out, &st)
	return out, st
}

// storePhotos hands each photo reference to the photo pipeline. Per-photo
// failures are counted, never escalated.
func (o *Orchestrator) storePhotos(ctx context.Context, job *Job, rec *ArtworkImportRecord, artworkID string, out *Outcome, st *recordStats) {
	if o.photos == nil || len(rec.Photos) == 0 {
		return
	}
	for _, ref := range rec.Photos {
		stored, err := o.photos.FetchAndStore(ctx, ref.URL)
		if err != nil {
			st.photosFailed++
			out.Warnings = append(out.Warnings, fmt.Sprintf("photo %s: %v", ref.URL, err))
			continue
		}
		st.photosDownloaded++
		err = o.store.AddArtworkPhoto(ctx, &catalog.ArtworkPhoto{
			ArtworkID: artworkID,
			SourceURL: ref.URL,
			StoredRef: stored.Ref,
			Caption:   ref.Caption,
			Credit:    ref.Credit,
		})
		if err != nil {
			st.photosFailed++
			out.Warnings = append(out.Warnings, fmt.Sprintf("photo %s: recording failed: %v", ref.URL, err))
			continue
		}
		st.photosUploaded++
	}
}

// resolveArtist links the artwork's referenced creator, auto-creating it when
// the job allows. Resolution failures become warnings on the artwork outcome,
// not record failures.
func (o *Orchestrator) resolveArtist(ctx context.Context, job *Job, rec *ArtworkImportRecord, artworkID string, out *Outcome, st *recordStats) {
	if rec.ArtistName == "" {
		return
	}

	resolution, err := o.resolver.Resolve(ctx, rec.ArtistName, resolve.Options{
		ImportID:           job.ImportID,
		SourceArtworkID:    artworkID,
		ActorID:            SystemActorID,
		CreateMissing:      job.Config.CreateMissingArtists,
		DuplicateThreshold: job.Config.DuplicateThreshold,
		WarningThreshold:   job.Config.WarningThreshold,
	})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("artist %q: %v", rec.ArtistName, err))
		return
	}

	switch resolution.Status {
	case resolve.StatusLinked, resolve.StatusCreated:
		if err := o.store.LinkArtworkCreator(ctx, artworkID, resolution.CreatorID, "artist"); err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("artist %q: linking failed: %v", rec.ArtistName, err))
			return
		}
		if resolution.Status == resolve.StatusCreated {
			st.autoCreated = append(st.autoCreated, AutoCreatedArtist{
				ID:              resolution.CreatorID,
				Name:            rec.ArtistName,
				SourceArtworkID: artworkID,
			})
			o.publish(event.CreatorCreated, map[string]any{
				"importId":  job.ImportID,
				"creatorId": resolution.CreatorID,
				"name":      rec.ArtistName,
			})
		}
	case resolve.StatusAmbiguous:
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("artist %q: %d close matches, review required", rec.ArtistName, len(resolution.Candidates)))
		o.publish(event.ReviewNeeded, map[string]any{
			"importId":  job.ImportID,
			"artworkId": artworkID,
			"name":      rec.ArtistName,
		})
	case resolve.StatusSearchRequired:
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("artist %q: no match, search at %s", rec.ArtistName, resolution.SearchURL))
	}
}

// processCreator runs one creator record: duplicate check by name, then
// create. Serialized per normalized name so one batch cannot create the same
// creator twice.
func (o *Orchestrator) processCreator(ctx context.Context, job *Job, profile similarity.Profile, locks *keyedLocks, i int) (Outcome, recordStats) {
	rec := &job.Creators[i]
	out := Outcome{Kind: KindCreator, Index: i, Title: rec.Name}
	st := recordStats{}

	unlock := locks.lock("creator:" + catalog.NormalizeName(rec.Name))
	defer unlock()

	report := o.detector.CheckCreator(ctx, rec.Name, rec.ExternalID, profile)
	if report.IsDuplicate {
		out.Status = StatusDuplicate
		out.ExistingID = report.ExistingID
		out.Confidence = report.Confidence
		out.Breakdown = report.Breakdown
		return out, st
	}

	if job.Config.DryRun {
		out.Status = StatusCreated
		return out, st
	}

	creator := &catalog.Creator{
		Name:        rec.Name,
		Description: rec.Description,
		Tags:        rec.Tags,
		Source:      sourceFor(rec.Source, job),
		SourceURL:   rec.SourceURL,
		ExternalID:  rec.ExternalID,
		CreatedBy:   SystemActorID,
	}
	if err := o.store.CreateCreator(ctx, creator); err != nil {
		o.logger.Error("creating creator failed",
			slog.String("import_id", job.ImportID),
			slog.String("name", rec.Name),
			slog.Any("error", err))
		out.Status = StatusFailed
		out.ErrorCode = "storage_error"
		out.Message = err.Error()
		return out, st
	}
	out.Status = StatusCreated
	out.ID = creator.ID
	return out, st
}

func (o *Orchestrator) publish(t event.Type, data map[string]any) {
	if o.bus != nil {
		o.bus.Publish(t, data)
	}
}

func canceledOutcome(kind RecordKind, i int, title string) Outcome {
	return Outcome{
		Kind:      kind,
		Index:     i,
		Title:     title,
		Status:    StatusFailed,
		ErrorCode: "job_canceled",
		Message:   "job deadline reached before this record was processed",
	}
}

func sourceFor(recordSource string, job *Job) string {
	if recordSource != "" {
		return recordSource
	}
	return job.Source.String()
}

// cellKey buckets coordinates into roughly kilometer-scale cells. Detection
// and creation inside one cell are serialized; records on opposite sides of a
// cell edge fall back to the storage-level duplicate check on the next job.
func cellKey(lat, lon float64) string {
	return fmt.Sprintf("cell:%d:%d", int(math.Floor(lat*100)), int(math.Floor(lon*100)))
}

// keyedLocks is a lazily-populated set of named mutexes scoped to one job run.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the named mutex, creating it on first use, and returns its
// release func.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
