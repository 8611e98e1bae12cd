package sources

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// This file defines the contract all remote source adapters share. One
// implementation exists per source kind: the public trip-archive bucket, the
// Open-Meteo weather API and the GBFS feed API.
// ====================================================================================

// Adapter fetches the payload for one unit of work. Implementations perform
// network I/O only; they never write to the destination store.
type Adapter interface {
	// Fetch retrieves and prepares the unit's payload. A missing remote
	// object is reported through FetchResult.Missing, not an error.
	Fetch(ctx context.Context, unit types.UnitOfWork) (*types.FetchResult, error)

	// ContentType is the MIME type of the payload this adapter produces.
	ContentType() string
}

// SchemaError reports a source payload that parsed but does not carry the
// expected structure. Deterministic for a given response, fatal for the unit.
type SchemaError struct {
	Source  types.Source
	Subject string
	Missing string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s response for %s is missing required field %q", e.Source, e.Subject, e.Missing)
}
