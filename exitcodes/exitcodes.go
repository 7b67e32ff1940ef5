// Package exitcodes defines the exit codes used by op-testengine.
package exitcodes

// Exit code constants:
//
// * Success (0): every executed test passed
// * TestFailure (1): one or more tests failed or errored
// * RuntimeErr (2): configuration problems, invalid filters, panics and other runtime failures
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)
