package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/tool"
)

type Service struct {
	store         *ledger.Store
	activity      *activity.Recorder
	subscriptions *subscription.Service
	log           *zap.SugaredLogger
	now           func() time.Time
}

func NewService(store *ledger.Store, rec *activity.Recorder, subs *subscription.Service, log *zap.SugaredLogger) *Service {
	return &Service{
		store:         store,
		activity:      rec,
		subscriptions: subs,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type SignupRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"required"`
}

// Create signs a tenant up: the tenant row and its FREE subscription commit
// together or not at all.
func (s *Service) Create(ctx context.Context, req *SignupRequest) (*models.Tenant, *models.Subscription, error) {
	if req == nil {
		return nil, nil, apperr.InvalidInput("empty signup")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, nil, apperr.InvalidInput("invalid email %q", req.Email)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, apperr.InvalidInput("name is required")
	}

	t := &models.Tenant{ID: tool.GenerateUUIDV7(), Email: email, Name: name}
	var sub *models.Subscription
	err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
		if err := tx.DB().Create(t).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.InvalidInput("email %s is already registered", email)
			}
			return fmt.Errorf("failed to create tenant: %w", err)
		}
		if err := s.activity.Record(ctx, tx.DB(), s.now(), activity.Entry{
			TenantID:   t.ID,
			Actor:      t.ID,
			Action:     "signup",
			EntityType: activity.EntityTenant,
			EntityID:   t.ID,
		}); err != nil {
			return err
		}
		var err error
		sub, err = s.subscriptions.CreateTx(ctx, tx, t.ID, t.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("tenant signed up", "tenant_id", t.ID)
	return t, sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.store.DB(ctx).Where("id = ?", id).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tenant %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransientStorage, err)
	}
	return &t, nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
