package internal

import "github.com/replicast/replicast/internal/hooks"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	transforms []func(*hooks.Pipeline)
	mcp        bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithTransforms registers payload transform hooks before the engine starts.
func WithTransforms(register func(*hooks.Pipeline)) Option {
	return func(a *application) {
		a.transforms = append(a.transforms, register)
	}
}

// WithMCP serves the MCP stdio transport instead of the HTTP server.
func WithMCP() Option {
	return func(a *application) {
		a.mcp = true
	}
}
