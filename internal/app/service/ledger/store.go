// Package ledger is the transactional store shared by the state machines.
// Every transition runs inside Store.InTx together with its activity entry
// and, for gateway events, its idempotency record; effects collected on the
// Tx are handed to the effects sink only after commit.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/tool"
)

// maxAttempts bounds retries of a transaction that lost an optimistic
// version check.
const maxAttempts = 3

type Store struct {
	db   *gorm.DB
	sink effects.Sink
	log  *zap.SugaredLogger
}

func NewStore(db *gorm.DB, sink effects.Sink, log *zap.SugaredLogger) *Store {
	return &Store{db: db, sink: sink, log: log}
}

// DB is the non-transactional handle, for reads only.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// InTx runs fn in a database transaction. fn may run more than once when a
// version conflict is detected, so it must not have side effects outside tx.
// Errors are classified: taxonomy errors pass through, anything else from the
// database becomes apperr.ErrTransientStorage.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx := &Tx{}
		err = s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			tx.db = gtx
			return fn(tx)
		})
		if err == nil {
			if len(tx.pending) > 0 && s.sink != nil {
				s.sink.Dispatch(ctx, tx.pending...)
			}
			return nil
		}
		if !errors.Is(err, apperr.ErrVersionConflict) {
			break
		}
		logctx.FromCtx(ctx, s.log).Warnw("transaction lost version check, retrying", "attempt", attempt)
	}
	return classify(err)
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrDuplicateEvent),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrCorruptState),
		errors.Is(err, apperr.ErrInvalidInput),
		errors.Is(err, apperr.ErrAuthenticity),
		errors.Is(err, apperr.ErrUnknownEventKind),
		errors.Is(err, apperr.ErrTransientStorage):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrTransientStorage, err)
}

// LookupEvent returns the recorded outcome for (source, eventID), or nil.
func (s *Store) LookupEvent(ctx context.Context, source, eventID string) (*models.ProcessedEvent, error) {
	var ev models.ProcessedEvent
	err := s.db.WithContext(ctx).Where("source = ? AND event_id = ?", source, eventID).Take(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup event: %v", apperr.ErrTransientStorage, err)
	}
	return &ev, nil
}

// Tx is the handle passed to InTx callbacks.
type Tx struct {
	db      *gorm.DB
	pending []effects.Request
}

func (t *Tx) DB() *gorm.DB { return t.db }

// Enqueue schedules effects for dispatch after commit. They are discarded if
// the transaction rolls back.
func (t *Tx) Enqueue(reqs ...effects.Request) {
	t.pending = append(t.pending, reqs...)
}

// Pending returns the effects enqueued so far.
func (t *Tx) Pending() []effects.Request { return t.pending }

// LockFirst loads the first row matching query into dest with SELECT ... FOR
// UPDATE. Drivers without row locks (sqlite) drop the locking clause; the
// version check in SaveVersioned still serializes writers there.
func (t *Tx) LockFirst(dest any, query string, args ...any) error {
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return err
}

// SaveVersioned writes every column of row if its stored version still equals
// *version, then bumps *version. A lost race returns apperr.ErrVersionConflict.
func (t *Tx) SaveVersioned(row any, version *int64) error {
	prev := *version
	*version = prev + 1
	res := t.db.Model(row).Where("version = ?", prev).Select("*").Omit("created_at").Updates(row)
	if res.Error != nil {
		*version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		*version = prev
		return apperr.ErrVersionConflict
	}
	return nil
}

// RecordEvent inserts the idempotency marker for a gateway event. A unique
// index collision means a concurrent delivery already committed, reported as
// apperr.ErrDuplicateEvent so the caller rolls back.
func (t *Tx) RecordEvent(source, eventID, kind, outcome string, at time.Time) error {
	ev := &models.ProcessedEvent{
		ID:          tool.GenerateUUIDV7(),
		Source:      source,
		EventID:     eventID,
		Kind:        kind,
		Outcome:     outcome,
		OutcomeHash: OutcomeHash(outcome),
		ProcessedAt: at,
	}
	if err := t.db.Create(ev).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s/%s", apperr.ErrDuplicateEvent, source, eventID)
		}
		return err
	}
	return nil
}

func OutcomeHash(outcome string) string {
	sum := sha256.Sum256([]byte(outcome))
	return hex.EncodeToString(sum[:])
}

var Module = fx.Options(
	fx.Provide(NewStore),
)
