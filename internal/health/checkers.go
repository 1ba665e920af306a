package health

import (
	"context"

	"github.com/voxleaf/voxleaf/pkg/catalog"
	"github.com/voxleaf/voxleaf/pkg/playqueue"
)

// CatalogChecker reports readiness of the content catalog store.
func CatalogChecker(store catalog.Store) Checker {
	return Checker{
		Name:  "catalog",
		Check: func(ctx context.Context) error { return store.Ping(ctx) },
	}
}

// QueueChecker reports readiness of the play-queue store.
func QueueChecker(store playqueue.Store) Checker {
	return Checker{
		Name:  "queue",
		Check: func(ctx context.Context) error { return store.Ping(ctx) },
	}
}
