//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"
)

// InitializeContainer declares the Wire injector for the object graph.
// Generated code is not checked in; NewContainer in container.go is the
// runtime construction path and also owns startup and shutdown, which
// Wire does not model.
func InitializeContainer() (*Container, error) {
	panic(wire.Build(
		SuperSet,
		wire.Struct(new(Container),
			"Config", "Logger", "Metrics", "Cache", "Warmer", "Keys",
			"Bus", "Detector", "Reader", "Service", "Relay", "Router",
		),
	))
}
