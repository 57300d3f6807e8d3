package timer

import (
	"context"
	"time"
)

type Repo interface {
	// Upsert stores the entry, replacing any entry with the same key.
	Upsert(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error

	// ClaimDue atomically claims up to limit entries whose FireAt has passed
	// and whose previous claim (if any) is older than reclaimAfter. Claimed
	// entries are returned for dispatch and deleted on success by the caller.
	ClaimDue(ctx context.Context, now time.Time, reclaimAfter time.Duration, limit int) ([]*Entry, error)
}
