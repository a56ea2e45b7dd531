package codegen

import (
	"bytes"
	"fmt"

	"github.com/xplshn/gpyc/pkg/config"
	"github.com/xplshn/gpyc/pkg/ir"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes an IR program and a configuration, and produces the target
	// source or assembly as a byte buffer.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
	// GenerateIR renders the program in the backend's textual form without
	// any further processing.
	GenerateIR(prog *ir.Program, cfg *config.Config) (string, error)
}

// NewBackend returns the backend cfg selects.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Backend {
	case config.BackendGo:
		return NewGoBackend(), nil
	case config.BackendQBE:
		return NewQBEBackend(), nil
	}
	return nil, fmt.Errorf("unsupported backend '%s'", cfg.Backend)
}
