// Package types contains the data model shared by the discovery, metadata, filter and runner packages.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// testIDNamespace seeds the deterministic test IDs derived from container and fully qualified name.
var testIDNamespace = uuid.MustParse("0a9c6f4e-3f6d-4c1b-9d55-5b7b1e0f3a21")

// TestContainer identifies a compiled unit holding zero or more test definitions.
type TestContainer struct {
	Path string // Location of the container (package directory, manifest path, ...)
	Name string // Short display name, defaults to the last path element
}

// NewTestContainer creates a container with a display name derived from its path
func NewTestContainer(path string) TestContainer {
	return TestContainer{Path: path, Name: containerName(path)}
}

func containerName(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// String implements the Stringer interface for TestContainer
func (c TestContainer) String() string {
	return c.Path
}

// Property is a declared name/value pair attached to a test method.
type Property struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// TestDefinition is a discovered test method. It is created once during discovery and never
// mutated afterwards; many definitions share the metadata of their declaring class.
type TestDefinition struct {
	ID          uuid.UUID
	Container   string // TestContainer.Path
	Class       string
	Method      string
	DisplayName string
	Timeout     time.Duration
	DataSource  *DataSource
	Properties  []Property // Declared custom properties, in declaration order
	Categories  []string
	Owner       string
	Priority    int
	Description string
}

// NewTestDefinition creates a definition with a deterministic ID
func NewTestDefinition(container, class, method string) TestDefinition {
	def := TestDefinition{
		Container: container,
		Class:     class,
		Method:    method,
	}
	def.ID = TestID(container, def.FullyQualifiedName())
	return def
}

// TestID returns the deterministic identifier of a test in a container
func TestID(container, fullyQualifiedName string) uuid.UUID {
	return uuid.NewSHA1(testIDNamespace, []byte(container+"::"+fullyQualifiedName))
}

// FullyQualifiedName returns Class.Method
func (d TestDefinition) FullyQualifiedName() string {
	if d.Class == "" {
		return d.Method
	}
	return d.Class + "." + d.Method
}

// GetName returns a display name for the definition
func (d TestDefinition) GetName() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Method
}

// ClassKey returns the cache key of the declaring class
func (d TestDefinition) ClassKey() ClassKey {
	return ClassKey{Container: d.Container, Class: d.Class}
}

// IsDataDriven reports whether the definition expands into data row invocations
func (d TestDefinition) IsDataDriven() bool {
	return d.DataSource != nil
}

// String implements the Stringer interface for TestDefinition
func (d TestDefinition) String() string {
	return fmt.Sprintf("%s (%s)", d.FullyQualifiedName(), d.Container)
}

// ClassKey identifies a class inside a container.
type ClassKey struct {
	Container string
	Class     string
}

// String implements the Stringer interface for ClassKey
func (k ClassKey) String() string {
	return k.Container + "::" + k.Class
}

// DataSource describes how a data-driven test obtains its rows.
type DataSource struct {
	AccessMethod string  // "Sequential" or "Random"
	Rows         [][]any // Inline rows
	File         string  // Optional row file, resolved relative to the container
	Table        string  // Optional table name inside the row file
}

// GroupByContainer groups definitions by container, preserving first-seen container order and
// discovery order within each container.
func GroupByContainer(tests []TestDefinition) ([]string, map[string][]TestDefinition) {
	var order []string
	groups := make(map[string][]TestDefinition)
	for _, t := range tests {
		if _, ok := groups[t.Container]; !ok {
			order = append(order, t.Container)
		}
		groups[t.Container] = append(groups[t.Container], t)
	}
	return order, groups
}
