// Package audit writes the immutable audit trail of an organization.
//
// The Recorder derives a severity and a human-readable description for each mutation
// and inserts the entry through the caller's transaction, so a failed audit write rolls
// back the business change it describes. Committed entries can additionally be copied to
// external destinations (file, webhook) through a Shipper; shipping is best effort and
// happens only after commit.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/safego"
	"github.com/tenantcrm/crm/internal/store"
	"github.com/tenantcrm/crm/internal/telemetry"
)

// ErrAuditWriteFailed is returned when an entry could not be persisted. The enclosing
// mutation must fail with it.
var ErrAuditWriteFailed = errors.New("audit: write failed")

// Actor identifies who performed a mutation
type Actor struct {
	ID   string
	Type models.ActorType
}

// RecordInput describes one mutation to record
type RecordInput struct {
	OrganizationID string
	Action         models.Action
	EntityType     models.EntityType
	EntityID       string
	Actor          Actor
	Changes        *models.Changes
	Metadata       map[string]interface{}
	// IPAddress and UserAgent are empty for calls that did not come through the external API
	IPAddress string
	UserAgent string
}

// Recorder builds and persists audit entries
type Recorder struct {
	shipper Shipper
	now     func() time.Time

	// inflight counts Ship goroutines that have not finished
	inflight sync.WaitGroup
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(shipper Shipper) *Recorder {
	return &Recorder{
		shipper: shipper,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record writes one entry through w, normally the mutation's transaction.
func (r *Recorder) Record(ctx context.Context, w store.AuditWriter, in RecordInput) (*models.AuditEntry, error) {
	if in.OrganizationID == "" || in.EntityID == "" || in.Actor.ID == "" {
		return nil, fmt.Errorf("%w: organization, entity and actor are required", ErrAuditWriteFailed)
	}

	createdAt := r.now()
	entry := &models.AuditEntry{
		ID:             newEntryID(createdAt),
		OrganizationID: in.OrganizationID,
		EntityType:     in.EntityType,
		EntityID:       in.EntityID,
		Action:         in.Action,
		ActorID:        in.Actor.ID,
		ActorType:      in.Actor.Type,
		Changes:        in.Changes,
		Metadata:       in.Metadata,
		Severity:       SeverityFor(in.Action, in.EntityType, in.Changes),
		Description:    Describe(in.Action, in.EntityType, in.Metadata, in.Changes),
		CreatedAt:      createdAt,
	}
	if in.IPAddress != "" {
		ip := in.IPAddress
		entry.IPAddress = &ip
	}
	if in.UserAgent != "" {
		ua := in.UserAgent
		entry.UserAgent = &ua
	}

	if err := w.CreateAuditEntry(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "audit write failed",
			"organization_id", in.OrganizationID,
			"entity_type", in.EntityType,
			"entity_id", in.EntityID,
			"action", in.Action,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrAuditWriteFailed, err)
	}

	telemetry.AuditEntriesTotal.WithLabelValues(string(entry.EntityType), string(entry.Severity)).Inc()
	return entry, nil
}

// Ship copies committed entries to the configured shipper in the background.
// Delivery failures are logged and counted, never returned.
func (r *Recorder) Ship(entries ...*models.AuditEntry) {
	if r.shipper == nil || len(entries) == 0 {
		return
	}
	r.inflight.Add(1)
	safego.Go("audit-ship", func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, e := range entries {
			if err := r.shipper.Ship(ctx, e); err != nil {
				slog.Warn("audit shipping failed", "audit_id", e.ID, "error", err)
			}
		}
	})
}

// Drain waits for every Ship started so far to finish, or for ctx to end. Call it
// before closing the shipper.
func (r *Recorder) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
