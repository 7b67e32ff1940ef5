package runner

import "maps"

// RunContext carries the per-run settings of a RunTests invocation
type RunContext struct {
	// FilterText is the test case filter; empty runs every test
	FilterText string
	// Parameters are the session parameters visible to every test through its TestContext
	Parameters map[string]any
	// ContainerParameters override session parameters per container path
	ContainerParameters map[string]map[string]any
	// MapInconclusiveToFailed reports inconclusive results as failed
	MapInconclusiveToFailed bool
}

// ParametersFor merges the session parameters with those of container. Container values win.
func (r RunContext) ParametersFor(container string) map[string]any {
	params := make(map[string]any, len(r.Parameters))
	maps.Copy(params, r.Parameters)
	maps.Copy(params, r.ContainerParameters[container])
	return params
}
