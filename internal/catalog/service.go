package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const artworkColumns = `id, title, description, lat, lon, artist_name, tags,
	source, source_url, external_id, license, created_by, created_at, updated_at`

const creatorColumns = `id, name, description, tags,
	source, source_url, external_id, created_by, created_at, updated_at`

// metersPerDegreeLat is the approximate north-south span of one degree.
const metersPerDegreeLat = 111320.0

// Service provides artwork and creator data operations.
type Service struct {
	db *sql.DB
}

// NewService creates a catalog service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateArtwork inserts a new artwork.
func (s *Service) CreateArtwork(ctx context.Context, a *Artwork) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artworks (
			id, title, description, lat, lon, artist_name, tags,
			source, source_url, external_id, license, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Title, a.Description, a.Lat, a.Lon, a.ArtistName, MarshalTagMap(a.Tags),
		a.Source, a.SourceURL, a.ExternalID, a.License, a.CreatedBy,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating artwork: %w", err)
	}
	return nil
}

// GetArtworkByID retrieves an artwork by primary key.
func (s *Service) GetArtworkByID(ctx context.Context, id string) (*Artwork, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artworkColumns+` FROM artworks WHERE id = ?`, id)
	a, err := scanArtwork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artwork not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting artwork by id: %w", err)
	}
	return a, nil
}

// FindNearbyArtworks returns artworks inside a bounding box around the given
// point. The box is derived from radiusMeters; results are capped at limit so
// lookup cost tracks local density, not catalog size.
func (s *Service) FindNearbyArtworks(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]*Artwork, error) {
	if limit <= 0 {
		limit = 50
	}
	latDelta := radiusMeters / metersPerDegreeLat
	// Longitude degrees shrink toward the poles; clamp the divisor away from zero.
	lonScale := math.Cos(lat * math.Pi / 180)
	if lonScale < 0.01 {
		lonScale = 0.01
	}
	lonDelta := radiusMeters / (metersPerDegreeLat * lonScale)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+artworkColumns+` FROM artworks
		WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		ORDER BY id
		LIMIT ?
	`, lat-latDelta, lat+latDelta, lon-lonDelta, lon+lonDelta, limit)
	if err != nil {
		return nil, fmt.Errorf("finding nearby artworks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var artworks []*Artwork
	for rows.Next() {
		a, err := scanArtwork(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artwork row: %w", err)
		}
		artworks = append(artworks, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artwork rows: %w", err)
	}
	return artworks, nil
}

// CreateCreator inserts a new creator.
func (s *Service) CreateCreator(ctx context.Context, c *Creator) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO creators (
			id, name, name_normalized, description, tags,
			source, source_url, external_id, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Name, NormalizeName(c.Name), c.Description, MarshalTagMap(c.Tags),
		c.Source, c.SourceURL, c.ExternalID, c.CreatedBy,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating creator: %w", err)
	}
	return nil
}

// GetCreatorByID retrieves a creator by primary key.
func (s *Service) GetCreatorByID(ctx context.Context, id string) (*Creator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+creatorColumns+` FROM creators WHERE id = ?`, id)
	c, err := scanCreator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("creator not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting creator by id: %w", err)
	}
	return c, nil
}

// FindCreatorsByNameFragment returns creators whose normalized name contains
// the normalized fragment.
func (s *Service) FindCreatorsByNameFragment(ctx context.Context, fragment string, limit int) ([]*Creator, error) {
	if limit <= 0 {
		limit = 25
	}
	norm := NormalizeName(fragment)
	if norm == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+creatorColumns+` FROM creators
		WHERE name_normalized LIKE '%' || ? || '%'
		ORDER BY name_normalized
		LIMIT ?
	`, norm, limit)
	if err != nil {
		return nil, fmt.Errorf("finding creators by name: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var creators []*Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning creator row: %w", err)
		}
		creators = append(creators, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating creator rows: %w", err)
	}
	return creators, nil
}

// LinkArtworkCreator records a creator's role on an artwork. Re-linking the
// same triple is a no-op.
func (s *Service) LinkArtworkCreator(ctx context.Context, artworkID, creatorID, role string) error {
	if role == "" {
		role = "artist"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO artwork_creators (artwork_id, creator_id, role, created_at)
		VALUES (?, ?, ?, ?)
	`, artworkID, creatorID, role, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("linking artwork creator: %w", err)
	}
	return nil
}

// ListArtworkCreators returns the creator ids linked to an artwork.
func (s *Service) ListArtworkCreators(ctx context.Context, artworkID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT creator_id FROM artwork_creators WHERE artwork_id = ? ORDER BY creator_id`, artworkID)
	if err != nil {
		return nil, fmt.Errorf("listing artwork creators: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning creator link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MergeTags additively merges tags into an existing artwork. Keys already
// present keep their stored value.
func (s *Service) MergeTags(ctx context.Context, artworkID string, incoming TagMap) (MergeStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MergeStats{}, fmt.Errorf("starting tag merge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var stored string
	err = tx.QueryRowContext(ctx, `SELECT tags FROM artworks WHERE id = ?`, artworkID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return MergeStats{}, fmt.Errorf("artwork not found: %s", artworkID)
	}
	if err != nil {
		return MergeStats{}, fmt.Errorf("reading artwork tags: %w", err)
	}

	merged, stats := MergeAdditive(UnmarshalTagMap(stored), incoming)
	if stats.NewTagsAdded == 0 {
		return stats, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE artworks SET tags = ?, updated_at = ? WHERE id = ?`,
		MarshalTagMap(merged), time.Now().UTC().Format(time.RFC3339), artworkID)
	if err != nil {
		return MergeStats{}, fmt.Errorf("writing merged tags: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MergeStats{}, fmt.Errorf("committing tag merge: %w", err)
	}
	return stats, nil
}

// AddArtworkPhoto records a stored photo for an artwork.
func (s *Service) AddArtworkPhoto(ctx context.Context, p *ArtworkPhoto) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artwork_photos (id, artwork_id, source_url, stored_ref, caption, credit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ArtworkID, p.SourceURL, p.StoredRef, p.Caption, p.Credit,
		p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("adding artwork photo: %w", err)
	}
	return nil
}

// SaveImportAudit persists the summary of a completed import job.
func (s *Service) SaveImportAudit(ctx context.Context, a *ImportAudit) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_audit (
			id, import_id, source, actor_id, started_at, completed_at, batches,
			total_requested, total_succeeded, total_failed, total_duplicates,
			tags_merged, artists_created, photos_stored, photos_failed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.ImportID, a.Source, a.ActorID,
		a.StartedAt.Format(time.RFC3339), a.CompletedAt.Format(time.RFC3339), a.Batches,
		a.TotalRequested, a.TotalSucceeded, a.TotalFailed, a.TotalDuplicates,
		a.TagsMerged, a.ArtistsCreated, a.PhotosStored, a.PhotosFailed,
	)
	if err != nil {
		return fmt.Errorf("saving import audit: %w", err)
	}
	return nil
}

// ListImportAudits returns persisted import summaries, newest first.
func (s *Service) ListImportAudits(ctx context.Context, limit int) ([]*ImportAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, import_id, source, actor_id, started_at, completed_at, batches,
			total_requested, total_succeeded, total_failed, total_duplicates,
			tags_merged, artists_created, photos_stored, photos_failed
		FROM import_audit ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing import audits: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var audits []*ImportAudit
	for rows.Next() {
		a, err := scanImportAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning import audit: %w", err)
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// GetImportAudit retrieves one import summary by its import id.
func (s *Service) GetImportAudit(ctx context.Context, importID string) (*ImportAudit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, import_id, source, actor_id, started_at, completed_at, batches,
			total_requested, total_succeeded, total_failed, total_duplicates,
			tags_merged, artists_created, photos_stored, photos_failed
		FROM import_audit WHERE import_id = ?
	`, importID)
	a, err := scanImportAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("import not found: %s", importID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting import audit: %w", err)
	}
	return a, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanArtwork(row scanner) (*Artwork, error) {
	var a Artwork
	var tags, createdAt, updatedAt string
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.Lat, &a.Lon, &a.ArtistName, &tags,
		&a.Source, &a.SourceURL, &a.ExternalID, &a.License, &a.CreatedBy,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Tags = UnmarshalTagMap(tags)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func scanCreator(row scanner) (*Creator, error) {
	var c Creator
	var tags, createdAt, updatedAt string
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &tags,
		&c.Source, &c.SourceURL, &c.ExternalID, &c.CreatedBy,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Tags = UnmarshalTagMap(tags)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanImportAudit(row scanner) (*ImportAudit, error) {
	var a ImportAudit
	var startedAt, completedAt string
	err := row.Scan(
		&a.ID, &a.ImportID, &a.Source, &a.ActorID, &startedAt, &completedAt, &a.Batches,
		&a.TotalRequested, &a.TotalSucceeded, &a.TotalFailed, &a.TotalDuplicates,
		&a.TagsMerged, &a.ArtistsCreated, &a.PhotosStored, &a.PhotosFailed,
	)
	if err != nil {
		return nil, err
	}
	a.StartedAt = parseTime(startedAt)
	a.CompletedAt = parseTime(completedAt)
	return &a, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
