// Package metadata resolves and memoizes the lifecycle metadata of test classes and containers.
package metadata

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ethereum-optimism/infra/op-testengine/introspect"
	"github.com/ethereum-optimism/infra/op-testengine/metrics"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// MethodInfo is a resolved lifecycle method and the class that declares it
type MethodInfo struct {
	Class  string
	Record introspect.MethodRecord
}

// Name returns the method name
func (m *MethodInfo) Name() string {
	return m.Record.Name
}

// String implements the Stringer interface for MethodInfo
func (m *MethodInfo) String() string {
	return m.Class + "." + m.Record.Name
}

// ClassMetadata is the resolved lifecycle of a test class
type ClassMetadata struct {
	Key             types.ClassKey
	Record          *introspect.ClassRecord
	TestInitialize  *MethodInfo
	TestCleanup     *MethodInfo
	ClassInitialize *MethodInfo
	ClassCleanup    *MethodInfo
	// BaseTestInitializeQueue runs before TestInitialize, outermost base first
	BaseTestInitializeQueue []*MethodInfo
	// BaseTestCleanupQueue runs after TestCleanup, innermost base first
	BaseTestCleanupQueue []*MethodInfo
	TestContextProperty  *introspect.ContextPropertyRecord

	// lineage holds the class record followed by its bases, most derived first
	lineage []*introspect.ClassRecord
}

// AssemblyMetadata is the resolved lifecycle of a container
type AssemblyMetadata struct {
	Container          string
	AssemblyInitialize *MethodInfo
	AssemblyCleanup    *MethodInfo
}

// TestMethodInfo is everything the runner needs to execute one test
type TestMethodInfo struct {
	Definition types.TestDefinition
	Method     MethodInfo
	Class      *ClassMetadata
	Assembly   *AssemblyMetadata
	Timeout    time.Duration
	Properties map[string]string
	DataSource *types.DataSource
	// NotRunnableReason is set when the test must not execute
	NotRunnableReason string
}

// IsRunnable reports whether the test can execute
func (t *TestMethodInfo) IsRunnable() bool {
	return t.NotRunnableReason == ""
}

// Config contains metadata cache configuration
type Config struct {
	Log          log.Logger
	Introspector introspect.Introspector
}

// Cache memoizes class records, ClassMetadata per (container, class) and AssemblyMetadata per
// container. It is safe for concurrent use. Only successful loads are memoized, so a failed
// class can be retried and never affects its siblings.
type Cache struct {
	log          log.Logger
	introspector introspect.Introspector

	mu         sync.Mutex
	records    map[types.ClassKey]*introspect.ClassRecord
	classLists map[string][]string
	classes    map[types.ClassKey]*ClassMetadata
	assemblies map[string]*AssemblyMetadata
	methods    map[uuid.UUID]*TestMethodInfo

	group singleflight.Group
}

// New creates a metadata cache over an introspector
func New(cfg Config) (*Cache, error) {
	if cfg.Introspector == nil {
		return nil, fmt.Errorf("introspector is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Cache{
		log:          cfg.Log,
		introspector: cfg.Introspector,
		records:      make(map[types.ClassKey]*introspect.ClassRecord),
		classLists:   make(map[string][]string),
		classes:      make(map[types.ClassKey]*ClassMetadata),
		assemblies:   make(map[string]*AssemblyMetadata),
		methods:      make(map[uuid.UUID]*TestMethodInfo),
	}, nil
}

// Resolve returns the class and container metadata of a test
func (c *Cache) Resolve(def types.TestDefinition) (*ClassMetadata, *AssemblyMetadata, error) {
	class, err := c.ClassMetadata(def.ClassKey())
	if err != nil {
		return nil, nil, err
	}
	assembly, err := c.AssemblyMetadata(def.Container)
	if err != nil {
		return nil, nil, err
	}
	return class, assembly, nil
}

// ClassMetadata returns the memoized metadata of a class, building it on first use
func (c *Cache) ClassMetadata(key types.ClassKey) (*ClassMetadata, error) {
	return memoize(c, c.classes, key, "class/"+key.String(), metrics.CacheKindClass, func() (*ClassMetadata, error) {
		return c.buildClass(key)
	})
}

// AssemblyMetadata returns the memoized metadata of a container, building it on first use
func (c *Cache) AssemblyMetadata(container string) (*AssemblyMetadata, error) {
	return memoize(c, c.assemblies, container, "assembly/"+container, metrics.CacheKindAssembly, func() (*AssemblyMetadata, error) {
		return c.buildAssembly(container)
	})
}

// ResolveTestMethod resolves everything needed to execute a test. Resolution errors are returned
// as *ResolutionError; invalid custom properties do not fail resolution but set NotRunnableReason.
// Definitions without an ID are keyed by their container and fully qualified name.
func (c *Cache) ResolveTestMethod(def types.TestDefinition) (*TestMethodInfo, error) {
	if def.ID == uuid.Nil {
		def.ID = types.TestID(def.Container, def.FullyQualifiedName())
	}
	return memoize(c, c.methods, def.ID, "method/"+def.ID.String(), metrics.CacheKindMethod, func() (*TestMethodInfo, error) {
		return c.buildTestMethod(def)
	})
}

// Classes returns the memoized class list of a container
func (c *Cache) Classes(container string) ([]string, error) {
	c.mu.Lock()
	list, ok := c.classLists[container]
	c.mu.Unlock()
	if ok {
		return slices.Clone(list), nil
	}

	v, err, _ := c.group.Do("classes/"+container, func() (any, error) {
		list, err := c.introspector.Classes(container)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.classLists[container] = list
		c.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

// Discover lists the test definitions of a container through the memoized class records. A class
// that fails to load is reported through onError and skipped.
func (c *Cache) Discover(container string, onError func(class string, err error)) ([]types.TestDefinition, error) {
	classes, err := c.Classes(container)
	if err != nil {
		return nil, fmt.Errorf("listing classes in %s: %w", container, err)
	}

	var tests []types.TestDefinition
	for _, class := range classes {
		record, err := c.record(types.ClassKey{Container: container, Class: class})
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
			if !m.HasMarker(introspect.MarkerTestMethod) || m.Ignored {
				continue
			}
			tests = append(tests, introspect.DefinitionFromRecord(container, record.Name, m))
		}
	}
	return tests, nil
}

// memoize implements get-or-create for one of the cache maps. The build runs at most once at a
// time per key and its result is stored only on success.
func memoize[K comparable, V any](c *Cache, m map[K]*V, key K, flightKey string, kind string, build func() (*V, error)) (*V, error) {
	c.mu.Lock()
	v, ok := m[key]
	c.mu.Unlock()
	metrics.RecordCacheLookup(kind, ok)
	if ok {
		return v, nil
	}

	res, err, _ := c.group.Do(flightKey, func() (any, error) {
		c.mu.Lock()
		if v, ok := m[key]; ok {
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		v, err := build()
		metrics.RecordCacheLoad(kind, err)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		m[key] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*V), nil
}

// record loads a class record through the introspector, once per successful load
func (c *Cache) record(key types.ClassKey) (*introspect.ClassRecord, error) {
	return memoize(c, c.records, key, "record/"+key.String(), metrics.CacheKindRecord, func() (*introspect.ClassRecord, error) {
		c.log.Debug("Loading class", "container", key.Container, "class", key.Class)
		return c.introspector.LoadClass(key.Container, key.Class)
	})
}

func (c *Cache) buildClass(key types.ClassKey) (*ClassMetadata, error) {
	record, err := c.record(key)
	if err != nil {
		return nil, classLoadError(key.Class, err)
	}
	if !record.HasDefaultConstructor {
		return nil, noDefaultConstructorError(key.Class)
	}

	meta := &ClassMetadata{Key: key, Record: record, lineage: []*introspect.ClassRecord{record}}

	if meta.TestInitialize, err = directLifecycle(record, introspect.MarkerTestInitialize); err != nil {
		return nil, err
	}
	if meta.TestCleanup, err = directLifecycle(record, introspect.MarkerTestCleanup); err != nil {
		return nil, err
	}
	if meta.ClassInitialize, err = directLifecycle(record, introspect.MarkerClassInitialize); err != nil {
		return nil, err
	}
	if meta.ClassCleanup, err = directLifecycle(record, introspect.MarkerClassCleanup); err != nil {
		return nil, err
	}

	// Walk the bases from the direct parent to the root
	seen := map[string]bool{key.Class: true}
	for base := record.Base; base != ""; {
		if seen[base] {
			return nil, classLoadError(key.Class, fmt.Errorf("inheritance cycle through %s", base))
		}
		seen[base] = true

		baseRecord, err := c.record(types.ClassKey{Container: key.Container, Class: base})
		if err != nil {
			return nil, classLoadError(base, err)
		}
		meta.lineage = append(meta.lineage, baseRecord)

		init, err := directLifecycle(baseRecord, introspect.MarkerTestInitialize)
		if err != nil {
			return nil, err
		}
		if init != nil {
			meta.BaseTestInitializeQueue = slices.Insert(meta.BaseTestInitializeQueue, 0, init)
		}
		cleanup, err := directLifecycle(baseRecord, introspect.MarkerTestCleanup)
		if err != nil {
			return nil, err
		}
		if cleanup != nil {
			meta.BaseTestCleanupQueue = append(meta.BaseTestCleanupQueue, cleanup)
		}
		base = baseRecord.Base
	}

	if meta.TestContextProperty, err = resolveTestContext(key.Class, meta.lineage); err != nil {
		return nil, err
	}

	c.log.Debug("Resolved class metadata", "container", key.Container, "class", key.Class,
		"baseInitializers", len(meta.BaseTestInitializeQueue), "baseCleanups", len(meta.BaseTestCleanupQueue))
	return meta, nil
}

// buildAssembly scans every test class of the container for assembly lifecycle methods. Classes
// that cannot be loaded are skipped.
func (c *Cache) buildAssembly(container string) (*AssemblyMetadata, error) {
	classes, err := c.Classes(container)
	if err != nil {
		return nil, classLoadError(container, err)
	}

	meta := &AssemblyMetadata{Container: container}
	for _, class := range classes {
		record, err := c.record(types.ClassKey{Container: container, Class: class})
		if err != nil {
			c.log.Warn("Skipping class during assembly scan", "container", container, "class", class, "err", err)
			continue
		}
		if !record.IsTestClass {
			continue
		}

		init, err := directLifecycle(record, introspect.MarkerAssemblyInitialize)
		if err != nil {
			return nil, err
		}
		if init != nil {
			if meta.AssemblyInitialize != nil {
				return nil, duplicateError("UTA014", container, "AssemblyInitialize", " inside an assembly")
			}
			meta.AssemblyInitialize = init
		}

		cleanup, err := directLifecycle(record, introspect.MarkerAssemblyCleanup)
		if err != nil {
			return nil, err
		}
		if cleanup != nil {
			if meta.AssemblyCleanup != nil {
				return nil, duplicateError("UTA015", container, "AssemblyCleanup", " inside an assembly")
			}
			meta.AssemblyCleanup = cleanup
		}
	}
	return meta, nil
}

func (c *Cache) buildTestMethod(def types.TestDefinition) (*TestMethodInfo, error) {
	class, assembly, err := c.Resolve(def)
	if err != nil {
		return nil, err
	}

	// Test methods may be inherited, so search the lineage most derived first
	var method *MethodInfo
	for _, r := range class.lineage {
		if m, ok := r.Method(def.Method); ok && m.HasMarker(introspect.MarkerTestMethod) {
			method = &MethodInfo{Class: r.Name, Record: m}
			break
		}
	}
	if method == nil {
		return nil, methodNotFoundError(def.Class, def.Method)
	}
	if !validTestMethod(method.Record.Signature) {
		return nil, testMethodSignatureError(def.Class, def.Method)
	}

	info := &TestMethodInfo{
		Definition: def,
		Method:     *method,
		Class:      class,
		Assembly:   assembly,
		Timeout:    def.Timeout,
		DataSource: def.DataSource,
	}
	if t := method.Record.Timeout; t != nil {
		if *t < 0 {
			return nil, invalidTimeoutError(def.Class, def.Method)
		}
		info.Timeout = *t
	}

	if ds := method.Record.DataSource; ds != nil {
		if ds.File == "" && len(method.Record.DataRows) == 0 {
			return nil, dataSourceError(def.Class, def.Method, "neither a row file nor inline rows are declared")
		}
		info.DataSource = &types.DataSource{
			AccessMethod: ds.AccessMethod,
			File:         ds.File,
			Table:        ds.Table,
			Rows:         method.Record.DataRows,
		}
	} else if len(method.Record.DataRows) > 0 {
		info.DataSource = &types.DataSource{AccessMethod: "Sequential", Rows: method.Record.DataRows}
	}

	info.Properties, info.NotRunnableReason = customProperties(def.Class, def.Method, method.Record.Properties)
	if !info.IsRunnable() {
		c.log.Warn("Test is not runnable", "test", def.FullyQualifiedName(), "reason", info.NotRunnableReason)
	}
	return info, nil
}

// customProperties validates declared custom properties. The first invalid property makes the
// test not runnable.
func customProperties(class, method string, props []types.Property) (map[string]string, string) {
	out := make(map[string]string, len(props))
	for _, p := range props {
		switch {
		case p.Name == "":
			return out, fmt.Sprintf("UTA021: %s: Null or empty custom property defined on method %s. The custom property must have a valid name.", class, method)
		case types.IsPredefinedProperty(p.Name):
			return out, fmt.Sprintf("UTA023: %s: Cannot define predefined property %s on method %s.", class, p.Name, method)
		}
		if _, dup := out[p.Name]; dup {
			return out, fmt.Sprintf("UTA022: %s.%s: The custom property \"%s\" is already defined. Using \"%s\" as value.", class, method, p.Name, p.Value)
		}
		out[p.Name] = p.Value
	}
	return out, ""
}

// resolveTestContext finds the TestContext property on the most derived class that declares one
func resolveTestContext(class string, lineage []*introspect.ClassRecord) (*introspect.ContextPropertyRecord, error) {
	for _, record := range lineage {
		var found *introspect.ContextPropertyRecord
		for i := range record.ContextProperties {
			p := &record.ContextProperties[i]
			if p.Name != "TestContext" {
				continue
			}
			if found != nil {
				return nil, testContextAmbiguousError(class)
			}
			found = p
		}
		if found == nil {
			continue
		}
		if found.Type != introspect.TypeTestContext {
			return nil, testContextTypeError(class)
		}
		if !found.Settable {
			return nil, nil
		}
		cp := *found
		return &cp, nil
	}
	return nil, nil
}

type lifecycleRule struct {
	code        string
	attribute   string
	scope       string
	requirement string
	valid       func(introspect.Signature) bool
}

var lifecycleRules = map[introspect.Marker]lifecycleRule{
	introspect.MarkerAssemblyInitialize: {"UTA014", "AssemblyInitialize", " inside an assembly", staticWithContext, validStaticWithContext},
	introspect.MarkerAssemblyCleanup:    {"UTA015", "AssemblyCleanup", " inside an assembly", staticNoParams, validStaticNoParams},
	introspect.MarkerClassInitialize:    {"UTA013", "ClassInitialize", " on a class", staticWithContext, validStaticWithContext},
	introspect.MarkerClassCleanup:       {"UTA016", "ClassCleanup", " on a class", staticNoParams, validStaticNoParams},
	introspect.MarkerTestInitialize:     {"UTA017", "TestInitialize", "", instanceNoParams, validInstanceNoParams},
	introspect.MarkerTestCleanup:        {"UTA018", "TestCleanup", "", instanceNoParams, validInstanceNoParams},
}

const (
	staticWithContext = "The method must be static, public, does not return a value and should take a single parameter of type TestContext."
	staticNoParams    = "The method must be static, public, does not return a value and should not take any parameter."
	instanceNoParams  = "The method must be non-static, public, does not return a value and should not take any parameter."
)

func validStaticWithContext(s introspect.Signature) bool {
	return s.Public && s.Static && !s.Generic && s.ReturnsNothing() && s.TakesSingleTestContext()
}

func validStaticNoParams(s introspect.Signature) bool {
	return s.Public && s.Static && !s.Generic && s.ReturnsNothing() && len(s.Params) == 0
}

func validInstanceNoParams(s introspect.Signature) bool {
	return s.Public && !s.Static && !s.Generic && s.ReturnsNothing() && len(s.Params) == 0
}

func validTestMethod(s introspect.Signature) bool {
	return validInstanceNoParams(s)
}

// directLifecycle returns the single method of record carrying marker, validated
func directLifecycle(record *introspect.ClassRecord, marker introspect.Marker) (*MethodInfo, error) {
	rule := lifecycleRules[marker]
	methods := record.MethodsWithMarker(marker)
	switch len(methods) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, duplicateError(rule.code, record.Name, rule.attribute, rule.scope)
	}

	m := methods[0]
	if !rule.valid(m.Signature) {
		return nil, signatureError(record.Name, m.Name, rule.requirement)
	}
	return &MethodInfo{Class: record.Name, Record: m}, nil
}
