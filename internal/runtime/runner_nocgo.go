//go:build !cgo
// +build !cgo

package runtime

import (
	"fmt"

	"opto/internal/ci"
)

const Available = false

const Module = "rt"

type Runner struct{}

type Session struct{}

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) NewSession(wasm []byte, env *ci.Env) (*Session, error) {
	return nil, fmt.Errorf("cgo is disabled (wasmtime-go is required to run modules)")
}

func (s *Session) Heap() *Heap { return nil }

func (s *Session) Call(name string, args ...any) (any, error) {
	return nil, fmt.Errorf("cgo is disabled (wasmtime-go is required to run modules)")
}
