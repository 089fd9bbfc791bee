package providers

import (
	"fmt"
	"sort"

	"github.com/lattiq/dispatch/internal/core"
	"github.com/lattiq/dispatch/internal/providers/mailgun"
	"github.com/lattiq/dispatch/internal/providers/mock"
	"github.com/lattiq/dispatch/internal/providers/sendgrid"
	"github.com/lattiq/dispatch/internal/providers/ses"
	"github.com/lattiq/dispatch/internal/providers/smtp"
)

// Factory builds a provider from its settings.
type Factory func(settings core.ProviderSettings) (core.Provider, error)

var factories = map[string]Factory{
	"aws_ses":  ses.NewProvider,
	"sendgrid": sendgrid.NewProvider,
	"mailgun":  mailgun.NewProvider,
	"smtp":     smtp.NewProvider,
	"mock":     mock.NewProvider,
}

// New creates a provider of the given type.
func New(providerType string, settings core.ProviderSettings) (core.Provider, error) {
	factory, ok := factories[providerType]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
	if settings == nil {
		settings = core.ProviderSettings{}
	}
	return factory(settings)
}

// Supported reports whether a factory is registered for providerType.
func Supported(providerType string) bool {
	_, ok := factories[providerType]
	return ok
}

// Types returns the registered provider types in sorted order.
func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
