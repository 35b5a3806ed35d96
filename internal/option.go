package internal

import (
	"io"
)

// Mode selects what Run does after the initial build.
type Mode string

const (
	// ModeBuild builds the site once and exits.
	ModeBuild Mode = "build"
	// ModeServe builds, then watches sources and serves the site and API.
	ModeServe Mode = "serve"
	// ModeMCP builds, then serves MCP tools on stdio.
	ModeMCP Mode = "mcp"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	mode    Mode
	version string
	logOut  io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMode sets the run mode. The default is ModeBuild.
func WithMode(m Mode) Option {
	return func(a *application) {
		a.mode = m
	}
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithLogOutput sets where logs are written. The default is stdout, or
// stderr in MCP mode where stdout carries the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}
