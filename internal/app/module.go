package app

import (
	"time"

	"github.com/prepmed/billing/internal/app/api/server"
	"github.com/prepmed/billing/internal/app/service/admin"
	"github.com/prepmed/billing/internal/app/service/eventlog"
	"github.com/prepmed/billing/internal/app/service/fulfillment"
	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/app/service/reward"
	"github.com/prepmed/billing/internal/app/service/scheduler"
	"github.com/prepmed/billing/internal/app/service/statistics"
	"github.com/prepmed/billing/internal/platform/db"
	"github.com/prepmed/billing/internal/platform/identity"
	"github.com/prepmed/billing/internal/platform/notify"
	"github.com/prepmed/billing/internal/provider"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	identity.Module,
	notify.Module,
	provider.Module,
	server.Module,
	ledger.Module,
	eventlog.Module,
	fulfillment.Module,
	reward.Module,
	admin.Module,
	statistics.Module,
	scheduler.Module,
)
