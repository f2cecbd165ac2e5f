//go:build !cgo
// +build !cgo

package compiler

import "errors"

var errNoAssembler = errors.New("cgo is disabled (wasmtime-go is required to assemble modules)")

// WatToWasm reports errNoAssembler; Assemble still fills in the text.
func (g *Generator) WatToWasm(wat string) ([]byte, error) {
	return nil, errNoAssembler
}
