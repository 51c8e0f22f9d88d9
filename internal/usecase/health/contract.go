package health

import "context"

// StorePinger is implemented by the cache and search stores.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker is implemented by model provider clients.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}
