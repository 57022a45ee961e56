// Package clitest provides compliance test suites for [cli.Backend] implementations.
//
// Test authors call [RunBackendTests] with a factory function that returns the
// implementation under test. The suite discovers the optional [cli.Exiter]
// capability via type assertion.
//
// Example usage in a backend test file:
//
//	package mybackend_test
//
//	import (
//	    "testing"
//	    "github.com/dmora/agentpipe/engine/cli"
//	    "github.com/dmora/agentpipe/engine/cli/mybackend"
//	    "github.com/dmora/agentpipe/enginetest/clitest"
//	)
//
//	func TestCompliance(t *testing.T) {
//	    clitest.RunBackendTests(t, func() cli.Backend {
//	        return mybackend.New()
//	    })
//	}
package clitest
