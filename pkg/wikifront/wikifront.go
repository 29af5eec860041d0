// Package wikifront provides the public API for embedding the wiki front end.
// This is the stable API for external consumers.
package wikifront

import (
	"github.com/tjfontaine/wikifront/internal/runtime"
)

// Wiki is the main entry point for running the front end.
// See internal/runtime.Wiki for full documentation.
type Wiki = runtime.Wiki

// Option is a functional option for configuring a Wiki.
type Option = runtime.Option

// New creates a new Wiki with the given options.
// Example:
//
//	w, err := wikifront.New(
//	    wikifront.WithFileConfig("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Storage
	WithStore = runtime.WithStore

	// Advanced options
	WithInvoker = runtime.WithInvoker
	WithLogger  = runtime.WithLogger
)
