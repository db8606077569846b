// Package irutil provides small helpers for loading LLVM IR modules.
package irutil

import (
	"fmt"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
)

// ParseFile parses the LLVM assembly file at path.
func ParseFile(path string) (*ir.Module, error) {
	m, err := asm.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// ParseString parses a module from LLVM assembly source. Handy for tests
// that keep their input programs inline.
func ParseString(source string) (*ir.Module, error) {
	m, err := asm.ParseString("module.ll", source)
	if err != nil {
		return nil, fmt.Errorf("parsing module: %w", err)
	}
	return m, nil
}
