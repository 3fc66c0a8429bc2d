// Package cmd provides common initialization for the command-line applications.
package cmd

import (
	"log/slog"

	"github.com/flowgrid/flowgrid/pkg/providers"
	"github.com/flowgrid/flowgrid/pkg/providers/echo"
	"github.com/flowgrid/flowgrid/pkg/registry"
)

// NewProviderGateway builds the model routing gateway. The echo provider is
// registered under the "echo" prefix so flows are runnable without any
// external credentials; real backends are registered by the hosting service.
func NewProviderGateway(logger *slog.Logger) *providers.Gateway {
	gateway := providers.NewGateway(logger)
	gateway.RegisterPrefix("echo", echo.NewProvider())

	return gateway
}

// NewRegistry builds the node registry with every built-in node type wired to
// the provider gateway.
func NewRegistry(logger *slog.Logger, gateway *providers.Gateway) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(gateway)

	return reg
}
