// Package introspect defines the capability the metadata cache uses to read declarative markers
// from a test container, together with plain-data records and three implementations:
//   - Static: an explicit self-registration table
//   - Manifest: YAML manifests describing the classes of a container
//   - GoSource: go/parser based discovery of `//testengine:` directives in _test.go files
package introspect

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// Marker is a declarative marker attached to a method
type Marker string

const (
	MarkerTestMethod         Marker = "testMethod"
	MarkerTestInitialize     Marker = "testInitialize"
	MarkerTestCleanup        Marker = "testCleanup"
	MarkerClassInitialize    Marker = "classInitialize"
	MarkerClassCleanup       Marker = "classCleanup"
	MarkerAssemblyInitialize Marker = "assemblyInitialize"
	MarkerAssemblyCleanup    Marker = "assemblyCleanup"
)

// String implements the Stringer interface for Marker
func (m Marker) String() string {
	return string(m)
}

// IsLifecycle reports whether the marker denotes an initialize or cleanup method
func (m Marker) IsLifecycle() bool {
	return m != MarkerTestMethod && m != ""
}

// Type names used in signatures
const (
	TypeTestContext = "TestContext"
	TypeVoid        = "void"
	TypeTask        = "Task"
)

// ErrClassNotFound is returned by introspectors when a class does not exist in a container
var ErrClassNotFound = errors.New("class not found")

// ErrContainerNotFound is returned by introspectors for unknown containers
var ErrContainerNotFound = errors.New("container not found")

// Signature describes the shape of a method independently of any runtime
type Signature struct {
	Public  bool     `yaml:"public"`
	Static  bool     `yaml:"static"`
	Params  []string `yaml:"params,omitempty"`
	Returns string   `yaml:"returns,omitempty"` // "", "void" or "Task" are valid lifecycle returns
	Async   bool     `yaml:"async,omitempty"`
	Generic bool     `yaml:"generic,omitempty"`
}

// ReturnsNothing reports whether the method returns void, or a task when async
func (s Signature) ReturnsNothing() bool {
	switch s.Returns {
	case "", TypeVoid:
		return !s.Async
	case TypeTask:
		return true
	}
	return false
}

// TakesSingleTestContext reports whether the only parameter is a TestContext
func (s Signature) TakesSingleTestContext() bool {
	return len(s.Params) == 1 && s.Params[0] == TypeTestContext
}

// DefaultSignature returns the valid signature for a method carrying marker
func DefaultSignature(marker Marker) Signature {
	switch marker {
	case MarkerAssemblyInitialize, MarkerClassInitialize:
		return Signature{Public: true, Static: true, Params: []string{TypeTestContext}, Returns: TypeVoid}
	case MarkerAssemblyCleanup, MarkerClassCleanup:
		return Signature{Public: true, Static: true, Returns: TypeVoid}
	default:
		return Signature{Public: true, Returns: TypeVoid}
	}
}

// DataSourceRecord describes a declared data source
type DataSourceRecord struct {
	AccessMethod string `yaml:"accessMethod"`
	File         string `yaml:"file,omitempty"`
	Table        string `yaml:"table,omitempty"`
}

// MethodRecord is the introspected view of a single method
type MethodRecord struct {
	Name        string            `yaml:"name"`
	Markers     []Marker          `yaml:"markers"`
	Signature   Signature         `yaml:"-"`
	Timeout     *time.Duration    `yaml:"timeout,omitempty"`
	Properties  []types.Property  `yaml:"properties,omitempty"`
	Categories  []string          `yaml:"categories,omitempty"`
	Owner       string            `yaml:"owner,omitempty"`
	Priority    int               `yaml:"priority,omitempty"`
	Description string            `yaml:"description,omitempty"`
	DataRows    [][]any           `yaml:"dataRows,omitempty"`
	DataSource  *DataSourceRecord `yaml:"dataSource,omitempty"`
	Ignored     bool              `yaml:"ignored,omitempty"`
}

// HasMarker reports whether the method carries marker
func (m MethodRecord) HasMarker(marker Marker) bool {
	return slices.Contains(m.Markers, marker)
}

// ContextPropertyRecord is a candidate injection point for the TestContext
type ContextPropertyRecord struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Settable bool   `yaml:"settable"`
}

// ClassRecord is the introspected view of a class in a container
type ClassRecord struct {
	Container             string                  `yaml:"-"`
	Name                  string                  `yaml:"name"`
	Base                  string                  `yaml:"base,omitempty"`
	HasDefaultConstructor bool                    `yaml:"defaultConstructor"`
	IsTestClass           bool                    `yaml:"testClass"`
	Methods               []MethodRecord          `yaml:"methods"`
	ContextProperties     []ContextPropertyRecord `yaml:"contextProperties,omitempty"`
}

// Method returns the method named name
func (c *ClassRecord) Method(name string) (MethodRecord, bool) {
	for _, m := range c.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodRecord{}, false
}

// MethodsWithMarker returns the methods carrying marker, in declaration order
func (c *ClassRecord) MethodsWithMarker(marker Marker) []MethodRecord {
	var out []MethodRecord
	for _, m := range c.Methods {
		if m.HasMarker(marker) {
			out = append(out, m)
		}
	}
	return out
}

// Introspector reads declared markers from a container. Every call may fail independently;
// callers treat a failure as specific to the requested class.
type Introspector interface {
	// Classes lists the classes declared in a container
	Classes(container string) ([]string, error)
	// LoadClass returns the record of a class
	LoadClass(container, class string) (*ClassRecord, error)
}

// Discover lists the test definitions of a container. A class that fails to load is reported
// through onError and skipped, so one broken class does not hide its siblings.
func Discover(in Introspector, container string, onError func(class string, err error)) ([]types.TestDefinition, error) {
	classes, err := in.Classes(container)
	if err != nil {
		return nil, fmt.Errorf("listing classes in %s: %w", container, err)
	}

	var tests []types.TestDefinition
	for _, class := range classes {
		record, err := in.LoadClass(container, class)
		if err != nil {
			if onError != nil {
				onError(class, err)
			}
			continue
		}
		if !record.IsTestClass {
			continue
		}
		for _, m := range record.Methods {
			if !m.HasMarker(MarkerTestMethod) || m.Ignored {
				continue
			}
			tests = append(tests, DefinitionFromRecord(container, record.Name, m))
		}
	}
	return tests, nil
}

// DefinitionFromRecord converts a test method record into a TestDefinition
func DefinitionFromRecord(container, class string, m MethodRecord) types.TestDefinition {
	def := types.NewTestDefinition(container, class, m.Name)
	if m.Timeout != nil {
		def.Timeout = *m.Timeout
	}
	def.Properties = slices.Clone(m.Properties)
	def.Categories = slices.Clone(m.Categories)
	def.Owner = m.Owner
	def.Priority = m.Priority
	def.Description = m.Description

	switch {
	case m.DataSource != nil:
		def.DataSource = &types.DataSource{
			AccessMethod: m.DataSource.AccessMethod,
			File:         m.DataSource.File,
			Table:        m.DataSource.Table,
			Rows:         m.DataRows,
		}
	case len(m.DataRows) > 0:
		def.DataSource = &types.DataSource{AccessMethod: "Sequential", Rows: m.DataRows}
	}
	return def
}
