// Package enginetest provides compliance test suites for agentpipe backends.
//
// CLI backend compliance tests live in the clitest sub-package.
package enginetest
