package reward

import "go.uber.org/fx"

// Module exposes the reward service via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
