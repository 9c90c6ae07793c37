package notification_log

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/tool"
	"github.com/fatflowers/invoicing/pkg/types"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	wg  sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Entry is one inbound notification and what became of it.
type Entry struct {
	Source     types.GatewaySource
	EventID    string
	Kind       string
	ReceivedAt time.Time
	Payload    []byte
	Status     models.PaymentNotificationLogStatus
	Result     any
}

// Save asynchronously persists a payment notification log. Failures are only
// logged; the log is diagnostic and never blocks event handling.
func (s *Service) Save(ctx context.Context, e Entry) {
	row := &models.PaymentNotificationLog{
		ID:               tool.GenerateUUIDV7(),
		Source:           e.Source,
		EventID:          e.EventID,
		Kind:             e.Kind,
		TraceID:          logctx.TraceID(ctx),
		NotificationTime: e.ReceivedAt.UTC(),
		Status:           e.Status,
	}
	if json.Valid(e.Payload) {
		row.Data = datatypes.JSON(e.Payload)
	} else {
		raw, _ := json.Marshal(map[string]string{"raw": string(e.Payload)})
		row.Data = datatypes.JSON(raw)
	}
	if e.Result != nil {
		if b, err := json.Marshal(e.Result); err == nil {
			j := datatypes.JSON(b)
			row.Result = &j
		}
	}
	l := logctx.FromCtx(ctx, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.db.Create(row).Error; err != nil {
			l.Errorf("failed to save notification log: %v", err)
		}
	}()
}

// Wait blocks until pending writes finish.
func (s *Service) Wait() { s.wg.Wait() }

func newService(lc fx.Lifecycle, db *gorm.DB, log *zap.SugaredLogger) *Service {
	s := New(db, log)
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		s.Wait()
		return nil
	}})
	return s
}

var Module = fx.Options(
	fx.Provide(newService),
)
