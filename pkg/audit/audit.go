// Package audit records who did what after each successful mutating
// operation. Recording is fire-and-forget: a failed write is logged and
// otherwise ignored, the engine never depends on it.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"go.uber.org/zap"
)

// Recorder persists audit entries through the storage layer.
type Recorder struct {
	storage store.Storage
	log     *zap.SugaredLogger
}

func NewRecorder(s store.Storage, log *zap.SugaredLogger) *Recorder {
	return &Recorder{
		storage: s,
		log:     log,
	}
}

// Record writes one audit entry. Errors are swallowed after logging.
func (r *Recorder) Record(actorID uuid.UUID, action, details string) {
	entry := &models.AuditEntry{
		ID:        uuid.New(),
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.storage.CreateAuditEntry(entry); err != nil {
		r.log.Errorw("failed to write audit entry", "action", action, "error", err)
		return
	}
	r.log.Debugw("audit", "actor", actorID, "action", action)
}
