// Package runner executes discovered tests container by container.
//
// The main components are:
//   - Driver: Groups tests by container, acquires a host per container and drives the iteration
//   - UnitTestRunner: Sequences lifecycle methods and test invocations inside one host
//   - Recorder: Receives test start/end notifications, results and run messages
//   - Collector: Aggregates recorded results into a container/class/test hierarchy
//   - Deployment: Optionally stages container files into a run directory before execution
//
// Each container loop is single threaded; containers may run concurrently when the driver is
// configured with a concurrency above one.
package runner
