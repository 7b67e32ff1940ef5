package types

import (
	"fmt"
	"maps"
	"strings"
	"sync"
)

// Predefined test context property names
const (
	PropertyFullyQualifiedTestClassName = "FullyQualifiedTestClassName"
	PropertyTestName                    = "TestName"
	PropertyOwner                       = "Owner"
	PropertyPriority                    = "Priority"
	PropertyTestCategory                = "TestCategory"
	PropertyDescription                 = "Description"
	PropertyWorkItem                    = "WorkItem"
	PropertyCSSIteration                = "CssIteration"
	PropertyCSSProjectStructure         = "CssProjectStructure"
	PropertyDeploymentDirectory         = "DeploymentDirectory"
	PropertyDataRow                     = "DataRow"
)

var predefinedProperties = map[string]bool{
	PropertyFullyQualifiedTestClassName: true,
	PropertyTestName:                    true,
	PropertyOwner:                       true,
	PropertyPriority:                    true,
	PropertyTestCategory:                true,
	PropertyDescription:                 true,
	PropertyWorkItem:                    true,
	PropertyCSSIteration:                true,
	PropertyCSSProjectStructure:         true,
	PropertyDeploymentDirectory:         true,
	PropertyDataRow:                     true,
}

// IsPredefinedProperty reports whether name is reserved by the engine (case-insensitive)
func IsPredefinedProperty(name string) bool {
	for p := range predefinedProperties {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// TestContext is handed to lifecycle and test methods. It carries the properties of the
// running test, the current data row and a message writer whose content ends up in the result.
type TestContext struct {
	mu         sync.Mutex
	properties map[string]any
	messages   strings.Builder
	dataRow    []any
	rowIndex   int
	outcome    Outcome
	files      []string
}

// NewTestContext creates a context for test with the given run parameters merged in
func NewTestContext(test TestDefinition, params map[string]any) *TestContext {
	props := make(map[string]any, len(params)+4)
	maps.Copy(props, params)
	props[PropertyFullyQualifiedTestClassName] = test.Class
	props[PropertyTestName] = test.Method
	return &TestContext{
		properties: props,
		rowIndex:   NoDataRow,
		outcome:    OutcomeInconclusive,
	}
}

// Property returns a property value
func (c *TestContext) Property(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.properties[name]
	return v, ok
}

// Properties returns a copy of all properties
func (c *TestContext) Properties() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.properties)
}

// AddProperty sets a property value
func (c *TestContext) AddProperty(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.properties[name] = value
}

// WriteLine appends a formatted line to the context messages
func (c *TestContext) WriteLine(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(&c.messages, format, args...)
	c.messages.WriteByte('\n')
}

// Write implements io.Writer so test output can be redirected into the context
func (c *TestContext) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages.Write(p)
}

// Messages returns everything written so far
func (c *TestContext) Messages() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages.String()
}

// ClearMessages resets the message buffer between data row invocations
func (c *TestContext) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages.Reset()
}

// SetDataRow sets the current data row; a nil row clears it
func (c *TestContext) SetDataRow(index int, row []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rowIndex = index
	c.dataRow = row
	if row == nil {
		delete(c.properties, PropertyDataRow)
		return
	}
	c.properties[PropertyDataRow] = index
}

// DataRow returns the current data row and its index
func (c *TestContext) DataRow() ([]any, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataRow, c.rowIndex
}

// SetOutcome records the outcome of the running test so cleanup methods can observe it
func (c *TestContext) SetOutcome(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = o
}

// CurrentOutcome returns the outcome set by the runner
func (c *TestContext) CurrentOutcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// AddResultFile attaches a file to the result of the running test
func (c *TestContext) AddResultFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = append(c.files, path)
}

// ResultFiles returns the attached files
func (c *TestContext) ResultFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}
