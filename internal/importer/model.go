// Package importer drives bulk catalog imports: whole-job validation,
// batched duplicate-aware processing, artist resolution, and audit
// aggregation.
package importer

import (
	"time"

	"github.com/openartmap/openartmap/internal/catalog"
	"github.com/openartmap/openartmap/internal/similarity"
)

// SystemActorID is the fixed identity attributed to every record written by
// the import pipeline, distinct from any human operator. Attributing machine
// writes to one well-known actor enables bulk audit and rollback later.
const SystemActorID = "system:mass-import"

// SourceInfo identifies where an import job originated.
type SourceInfo struct {
	Plugin  string `json:"plugin"`
	Version string `json:"version,omitempty"`
	Dataset string `json:"dataset,omitempty"`
}

// String renders the source as "plugin/version (dataset)" for audit rows.
func (s SourceInfo) String() string {
	out := s.Plugin
	if s.Version != "" {
		out += "/" + s.Version
	}
	if s.Dataset != "" {
		out += " (" + s.Dataset + ")"
	}
	return out
}

// Config carries per-job import policy.
type Config struct {
	DuplicateThreshold   float64            `json:"duplicateThreshold" validate:"gte=0,lte=1"`
	WarningThreshold     float64            `json:"warningThreshold" validate:"gte=0,lte=1"`
	EnableTagMerging     bool               `json:"enableTagMerging"`
	CreateMissingArtists bool               `json:"createMissingArtists"`
	BatchSize            int                `json:"batchSize" validate:"gte=0,lte=1000"`
	MaxWorkers           int                `json:"maxWorkers" validate:"gte=0,lte=64"`
	DryRun               bool               `json:"dryRun"`
	SignalWeights        map[string]float64 `json:"signalWeights,omitempty"`
}

// ApplyDefaults fills unset fields with the standard policy.
func (c *Config) ApplyDefaults() {
	if c.DuplicateThreshold == 0 {
		c.DuplicateThreshold = 0.7
	}
	if c.WarningThreshold == 0 {
		c.WarningThreshold = 0.55
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
}

// FillFrom copies server-side defaults into any policy field the job left
// unset. Runs before ApplyDefaults, so explicit job config wins over server
// config, which wins over the built-in fallbacks.
func (c *Config) FillFrom(d Config) {
	if c.DuplicateThreshold == 0 {
		c.DuplicateThreshold = d.DuplicateThreshold
	}
	if c.WarningThreshold == 0 {
		c.WarningThreshold = d.WarningThreshold
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = d.MaxWorkers
	}
}

// Profile builds the scoring profile for this job: default weights with any
// per-job overrides from SignalWeights applied.
func (c Config) Profile() similarity.Profile {
	w := similarity.DefaultWeights()
	for name, weight := range c.SignalWeights {
		switch name {
		case string(similarity.SignalDistance):
			w.Distance = weight
		case string(similarity.SignalTitle):
			w.Title = weight
		case string(similarity.SignalArtistName):
			w.ArtistName = weight
		case string(similarity.SignalTagOverlap):
			w.TagPerKey = weight
		case string(similarity.SignalExternalID):
			w.ExternalID = weight
		case "distanceCutoffMeters":
			w.DistanceCutoffMeters = weight
		}
	}
	return similarity.Profile{
		Weights:            w,
		DuplicateThreshold: c.DuplicateThreshold,
		WarningThreshold:   c.WarningThreshold,
	}
}

// PhotoRef is a source photo attached to an artwork import record.
type PhotoRef struct {
	URL     string `json:"url" validate:"required"`
	Caption string `json:"caption,omitempty"`
	Credit  string `json:"credit,omitempty"`
}

// ArtworkImportRecord is one incoming artwork.
type ArtworkImportRecord struct {
	Lat         *float64       `json:"lat" validate:"required"`
	Lon         *float64       `json:"lon" validate:"required"`
	Title       string         `json:"title" validate:"required"`
	Description string         `json:"description,omitempty"`
	ArtistName  string         `json:"artistName,omitempty"`
	Tags        catalog.TagMap `json:"tags,omitempty"`
	Photos      []PhotoRef     `json:"photos,omitempty"`
	Source      string         `json:"source,omitempty"`
	SourceURL   string         `json:"sourceUrl,omitempty"`
	ExternalID  string         `json:"externalId,omitempty"`
	License     string         `json:"license,omitempty"`
}

// CreatorImportRecord is one incoming creator. Coordinates never apply.
type CreatorImportRecord struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Tags        catalog.TagMap `json:"tags,omitempty"`
	Source      string         `json:"source,omitempty"`
	SourceURL   string         `json:"sourceUrl,omitempty"`
	ExternalID  string         `json:"externalId,omitempty"`
}

// Job is one import request. Consumed once by the orchestrator; only its
// audit summary is persisted.
type Job struct {
	ImportID    string                `json:"importId"`
	Source      SourceInfo            `json:"source"`
	SubmittedAt time.Time             `json:"submittedAt"`
	Config      Config                `json:"config"`
	Artworks    []ArtworkImportRecord `json:"artworks"`
	Creators    []CreatorImportRecord `json:"creators"`
}

// OutcomeStatus classifies the result of processing one record.
type OutcomeStatus string

// Outcome statuses.
const (
	StatusCreated   OutcomeStatus = "created"
	StatusDuplicate OutcomeStatus = "duplicate"
	StatusFailed    OutcomeStatus = "failed"
)

// RecordKind distinguishes artwork outcomes from creator outcomes.
type RecordKind string

// Record kinds.
const (
	KindArtwork RecordKind = "artwork"
	KindCreator RecordKind = "creator"
)

// Outcome is the append-only result for a single input record.
type Outcome struct {
	Kind       RecordKind          `json:"kind"`
	Index      int                 `json:"index"`
	Title      string              `json:"title,omitempty"`
	Status     OutcomeStatus       `json:"status"`
	ID         string              `json:"id,omitempty"`
	ExistingID string              `json:"existingId,omitempty"`
	Confidence float64             `json:"confidenceScore,omitempty"`
	Breakdown  []similarity.Signal `json:"scoreBreakdown,omitempty"`
	TagsMerged *catalog.MergeStats `json:"tagsMerged,omitempty"`
	ErrorCode  string              `json:"errorCode,omitempty"`
	Message    string              `json:"message,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
}

// AutoCreatedArtist records a creator the pipeline created because an artwork
// referenced it.
type AutoCreatedArtist struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SourceArtworkID string `json:"sourceArtworkId,omitempty"`
}

// Summary aggregates per-record outcomes for the whole job.
type Summary struct {
	TotalRequested   int   `json:"totalRequested"`
	TotalSucceeded   int   `json:"totalSucceeded"`
	TotalFailed      int   `json:"totalFailed"`
	TotalDuplicates  int   `json:"totalDuplicates"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// AuditTrail records what the pipeline did on whose behalf.
type AuditTrail struct {
	ImportStarted      time.Time `json:"importStarted"`
	ImportCompleted    time.Time `json:"importCompleted"`
	BatchesProcessed   int       `json:"batchesProcessed"`
	SystemActorID      string    `json:"systemActorId"`
	PhotosDownloaded   int       `json:"photosDownloaded"`
	PhotosUploaded     int       `json:"photosUploaded"`
	PhotosFailed       int       `json:"photosFailed"`
	TagsMerged         int       `json:"tagsMerged"`
	ArtistsAutoCreated int       `json:"artistsAutoCreated"`
}

// Result is the full per-record outcome report for one job.
type Result struct {
	ImportID    string              `json:"importId"`
	DryRun      bool                `json:"dryRun"`
	Summary     Summary             `json:"summary"`
	Created     []Outcome           `json:"created"`
	Duplicates  []Outcome           `json:"duplicates"`
	Failed      []Outcome           `json:"failed"`
	AutoCreated []AutoCreatedArtist `json:"autoCreated"`
	Audit       AuditTrail          `json:"audit"`
}
