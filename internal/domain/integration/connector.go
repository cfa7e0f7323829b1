package integration

import "context"

// SourceRecord is one entity as returned by a connector
type SourceRecord struct {
	SourceID string
	Payload  Payload
}

// Page is one page of a connector fetch
type Page struct {
	// Records on this page
	Records []SourceRecord
	// NextPageToken is empty on the last page
	NextPageToken string
	// HighWatermark is the cursor to pass as watermark on the next incremental
	// pass once every page has been consumed. Empty when the source has none.
	HighWatermark string
}

// SourceConnector fetches entities from an external system page by page.
// An empty watermark enumerates every entity (full mode); a non-empty one
// returns only entities changed after it (incremental mode).
// Implementations wrap transport failures in ConnectorUnavailableError.
type SourceConnector interface {
	// Source names the upstream system
	Source() string
	// FetchPage returns one page of entities of the given type
	FetchPage(ctx context.Context, entityType, watermark, pageToken string) (*Page, error)
}
