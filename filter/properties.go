package filter

import (
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// Properties understood by TestPropertyProvider
const (
	PropertyFullyQualifiedName = "FullyQualifiedName"
	PropertyName               = "Name"
	PropertyClassName          = "ClassName"
	PropertyTestCategory       = "TestCategory"
	PropertyPriority           = "Priority"
	PropertyOwner              = "Owner"
	PropertyContainer          = "Container"
	PropertyDescription        = "Description"
)

// SupportedProperties lists the built-in properties of a test
var SupportedProperties = []string{
	PropertyFullyQualifiedName,
	PropertyName,
	PropertyClassName,
	PropertyTestCategory,
	PropertyPriority,
	PropertyOwner,
	PropertyContainer,
	PropertyDescription,
}

// TestPropertyProvider returns the property lookup of a test definition. Built-in names are
// matched case-insensitively, custom properties by exact name.
func TestPropertyProvider(def types.TestDefinition) Lookup {
	return func(name string) (any, bool) {
		switch strings.ToLower(name) {
		case "fullyqualifiedname":
			return def.FullyQualifiedName(), true
		case "name":
			return def.GetName(), true
		case "classname":
			return def.Class, true
		case "testcategory":
			return def.Categories, len(def.Categories) > 0
		case "priority":
			return strconv.Itoa(def.Priority), true
		case "owner":
			return def.Owner, def.Owner != ""
		case "container":
			return def.Container, true
		case "description":
			return def.Description, def.Description != ""
		}
		var values []string
		for _, p := range def.Properties {
			if p.Name == name {
				values = append(values, p.Value)
			}
		}
		return values, len(values) > 0
	}
}
