package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/invoicing/internal/app/api/middleware"
	"github.com/fatflowers/invoicing/internal/app/api/server"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/app/service/loginguard"
	notificationlog "github.com/fatflowers/invoicing/internal/app/service/notification_log"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/reconcile"
	"github.com/fatflowers/invoicing/internal/app/service/scheduler"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/app/service/tenant"
	"github.com/fatflowers/invoicing/internal/platform/db"
	"github.com/fatflowers/invoicing/internal/platform/midtrans"
	"github.com/fatflowers/invoicing/internal/platform/redis"
	"github.com/fatflowers/invoicing/internal/platform/stripe"
	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/logger"
	"github.com/fatflowers/invoicing/pkg/tool"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

func initReceiptNode(cfg *config.Config) error {
	return tool.InitReceiptNode(cfg.NodeID)
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	redis.Module,
	stripe.Module,
	midtrans.Module,
	fx.Invoke(initReceiptNode),
	effects.Module,
	ledger.Module,
	activity.Module,
	notificationlog.Module,
	invoice.Module,
	subscription.Module,
	payment.Module,
	tenant.Module,
	reconcile.Module,
	scheduler.Module,
	loginguard.Module,
	middleware.Module,
	server.Module,
)
