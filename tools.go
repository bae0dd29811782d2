//go:build tools

// Package tools tracks Go-based tools run through go generate (mockgen)
// as module dependencies so a fresh checkout can regenerate the mocks.
package lanchat

import (
	_ "go.uber.org/mock/mockgen"
)
