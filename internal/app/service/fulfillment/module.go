package fulfillment

import (
	"github.com/prepmed/billing/internal/provider"

	"go.uber.org/fx"
)

// Module exposes the fulfillment orchestrator via Fx.
var Module = fx.Options(
	fx.Provide(
		func(r *provider.Registry) AdapterResolver { return r },
		NewService,
	),
)
