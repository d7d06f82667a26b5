package interfaces

import (
	"time"

	"coinwatch/src/models"
)

// IPersistence is the durable snapshot log contract. The pipeline only ever
// loads the most recent snapshot, appends new ones, and prunes old rows; the
// on-disk layout is owned by the implementations.
type IPersistence interface {
	Initialize() error
	Load() (models.MSnapshot, error)
	Save(snapshot models.MSnapshot) error
	Prune(olderThan time.Duration) error
	Close() error
}
