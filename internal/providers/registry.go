package providers

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

// Registry holds the configured provider clients and a circuit breaker per
// provider. Providers are registered once at startup.
type Registry struct {
	clients         map[transaction.Provider]Client
	circuitBreakers map[transaction.Provider]*gobreaker.CircuitBreaker[any]
	defaultProvider transaction.Provider
}

func NewRegistry(defaultProvider transaction.Provider, clients ...Client) *Registry {
	r := &Registry{
		clients:         make(map[transaction.Provider]Client),
		circuitBreakers: make(map[transaction.Provider]*gobreaker.CircuitBreaker[any]),
		defaultProvider: defaultProvider,
	}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c Client) {
	name := c.Name()
	r.clients[name] = c
	r.circuitBreakers[name] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(name),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		// Client-side rejections are not provider outages and must not
		// open the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, domainErrors.ErrInvalidRequest) ||
				errors.Is(err, domainErrors.ErrNotFound) ||
				errors.Is(err, domainErrors.ErrRefundNotAllowed)
		},
	})
}

// Resolve maps a request-supplied provider name to a registered provider. An
// empty name selects the configured default.
func (r *Registry) Resolve(name string) (transaction.Provider, error) {
	if name == "" {
		name = string(r.defaultProvider)
	}
	provider := transaction.Provider(name)
	if _, ok := r.clients[provider]; !ok {
		return "", fmt.Errorf("provider %q: %w", name, domainErrors.ErrProviderNotConfigured)
	}
	return provider, nil
}

func (r *Registry) Get(provider transaction.Provider) (Client, *gobreaker.CircuitBreaker[any], error) {
	c, ok := r.clients[provider]
	if !ok {
		return nil, nil, fmt.Errorf("provider %q: %w", provider, domainErrors.ErrProviderNotConfigured)
	}
	return c, r.circuitBreakers[provider], nil
}

// Default returns the provider used when a request names none.
func (r *Registry) Default() transaction.Provider {
	return r.defaultProvider
}

// Names lists the registered providers, for health and diagnostics output.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, string(name))
	}
	return names
}

// Execute runs fn through the provider's circuit breaker and converts an open
// breaker into ErrProviderUnavailable.
func Execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, domainErrors.NewDomainError(
				"provider_circuit_open",
				fmt.Sprintf("provider %s temporarily disabled after repeated failures", cb.Name()),
				domainErrors.ErrProviderUnavailable,
			)
		}
		return zero, err
	}
	out, _ := res.(T)
	return out, nil
}
