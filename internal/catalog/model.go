// Package catalog holds the authoritative artwork and creator store.
package catalog

import (
	"strings"
	"time"
)

// Artwork is a persisted public artwork entry.
type Artwork struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	ArtistName  string    `json:"artistName,omitempty"`
	Tags        TagMap    `json:"tags,omitempty"`
	Source      string    `json:"source,omitempty"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	ExternalID  string    `json:"externalId,omitempty"`
	License     string    `json:"license,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Creator is a persisted artwork creator entry.
type Creator struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        TagMap    `json:"tags,omitempty"`
	Source      string    `json:"source,omitempty"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	ExternalID  string    `json:"externalId,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ArtworkPhoto records a stored photo variant for an artwork.
type ArtworkPhoto struct {
	ID        string    `json:"id"`
	ArtworkID string    `json:"artworkId"`
	SourceURL string    `json:"sourceUrl"`
	StoredRef string    `json:"storedRef"`
	Caption   string    `json:"caption,omitempty"`
	Credit    string    `json:"credit,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ImportAudit is the persisted summary of one completed import job.
type ImportAudit struct {
	ID              string    `json:"id"`
	ImportID        string    `json:"importId"`
	Source          string    `json:"source"`
	ActorID         string    `json:"actorId"`
	StartedAt       time.Time `json:"startedAt"`
	CompletedAt     time.Time `json:"completedAt"`
	Batches         int       `json:"batches"`
	TotalRequested  int       `json:"totalRequested"`
	TotalSucceeded  int       `json:"totalSucceeded"`
	TotalFailed     int       `json:"totalFailed"`
	TotalDuplicates int       `json:"totalDuplicates"`
	TagsMerged      int       `json:"tagsMerged"`
	ArtistsCreated  int       `json:"artistsCreated"`
	PhotosStored    int       `json:"photosStored"`
	PhotosFailed    int       `json:"photosFailed"`
}

// NormalizeName lowercases, trims, and collapses interior whitespace.
// Used for the creators name index and exact-match lookups.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
