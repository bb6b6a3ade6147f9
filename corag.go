// Package corag provides a top-level convenience entry point for building
// the hybrid retrieval pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/corag"
//
//	p, err := corag.New(config.DefaultConfig(), corag.Deps{})
//	resp, err := p.Run(ctx, "how does raft handle leader election?")
//
// This is a thin wrapper around [rag.NewPipelineFromConfig]; both produce
// identical results. Use this package when you prefer the shorter import path.
package corag

import (
	"github.com/BaSui01/corag/config"
	"github.com/BaSui01/corag/rag"
)

// Deps re-exports the injectable pipeline dependencies.
type Deps = rag.Deps

// Response re-exports the query result type.
type Response = rag.Response

// New builds a [rag.Pipeline] from configuration.
func New(cfg *config.Config, deps Deps) (*rag.Pipeline, error) {
	return rag.NewPipelineFromConfig(cfg, deps)
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() *config.Config {
	return config.DefaultConfig()
}
