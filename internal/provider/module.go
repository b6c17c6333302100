package provider

import (
	"fmt"

	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/types"

	"go.uber.org/fx"
)

// Registry resolves the adapter for a provider kind.
type Registry struct {
	adapters map[types.ProviderKind]Adapter
}

func NewRegistry(stripeAdapter *StripeAdapter, razorpayAdapter *RazorpayAdapter) *Registry {
	return &Registry{
		adapters: map[types.ProviderKind]Adapter{
			types.ProviderKindStripe:   stripeAdapter,
			types.ProviderKindRazorpay: razorpayAdapter,
		},
	}
}

func (r *Registry) Get(kind types.ProviderKind) (Adapter, error) {
	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", apperr.ErrValidation, kind)
	}
	return adapter, nil
}

var Module = fx.Options(
	fx.Provide(
		NewStripeAdapter,
		NewRazorpayAdapter,
		NewRegistry,
	),
)
