//go:build cgo
// +build cgo

package compiler

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"
)

// WatToWasm assembles generated text and validates the binary against a
// default engine, so a bad module fails here rather than at instantiation.
func (g *Generator) WatToWasm(wat string) ([]byte, error) {
	wasm, err := wasmtime.Wat2Wasm(wat)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	if err := wasmtime.ModuleValidate(wasmtime.NewEngine(), wasm); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return wasm, nil
}
