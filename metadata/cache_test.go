package metadata

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testengine/introspect"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

const container = "./pkg/calc"

// MockIntrospector is a mock implementation of the Introspector interface
type MockIntrospector struct {
	mock.Mock
}

func (m *MockIntrospector) Classes(container string) ([]string, error) {
	args := m.Called(container)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockIntrospector) LoadClass(container, class string) (*introspect.ClassRecord, error) {
	args := m.Called(container, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*introspect.ClassRecord), args.Error(1)
}

func newMockIntrospector(records ...introspect.ClassRecord) *MockIntrospector {
	m := new(MockIntrospector)
	var names []string
	for i := range records {
		r := records[i]
		r.Container = container
		names = append(names, r.Name)
		m.On("LoadClass", container, r.Name).Return(&r, nil)
	}
	m.On("Classes", container).Return(names, nil)
	return m
}

func newCache(t *testing.T, in introspect.Introspector) *Cache {
	c, err := New(Config{Log: log.NewLogger(log.DiscardHandler()), Introspector: in})
	require.NoError(t, err)
	return c
}

func method(name string, markers ...introspect.Marker) introspect.MethodRecord {
	return introspect.MethodRecord{Name: name, Markers: markers, Signature: introspect.DefaultSignature(markers[0])}
}

func testClass(name, base string, methods ...introspect.MethodRecord) introspect.ClassRecord {
	return introspect.ClassRecord{Name: name, Base: base, HasDefaultConstructor: true, IsTestClass: true, Methods: methods}
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestCache_IntrospectsEachClassOnce(t *testing.T) {
	in := newMockIntrospector(testClass("CalculatorTests", "",
		method("TestAdd", introspect.MarkerTestMethod),
		method("TestSub", introspect.MarkerTestMethod),
		method("TestMul", introspect.MarkerTestMethod),
	))
	cache := newCache(t, in)

	var first *ClassMetadata
	for _, name := range []string{"TestAdd", "TestSub", "TestMul", "TestAdd"} {
		info, err := cache.ResolveTestMethod(types.NewTestDefinition(container, "CalculatorTests", name))
		require.NoError(t, err)
		require.True(t, info.IsRunnable())
		if first == nil {
			first = info.Class
		}
		assert.Same(t, first, info.Class)
	}

	in.AssertNumberOfCalls(t, "LoadClass", 1)
	in.AssertNumberOfCalls(t, "Classes", 1)
}

func TestCache_DefinitionsWithoutID(t *testing.T) {
	in := newMockIntrospector(testClass("CalculatorTests", "",
		method("TestAdd", introspect.MarkerTestMethod),
		method("TestSub", introspect.MarkerTestMethod),
	))
	cache := newCache(t, in)

	add, err := cache.ResolveTestMethod(types.TestDefinition{Container: container, Class: "CalculatorTests", Method: "TestAdd"})
	require.NoError(t, err)
	sub, err := cache.ResolveTestMethod(types.TestDefinition{Container: container, Class: "CalculatorTests", Method: "TestSub"})
	require.NoError(t, err)
	assert.Equal(t, "TestAdd", add.Method.Name())
	assert.Equal(t, "TestSub", sub.Method.Name())

	again, err := cache.ResolveTestMethod(types.NewTestDefinition(container, "CalculatorTests", "TestSub"))
	require.NoError(t, err)
	assert.Same(t, sub, again)
}

func TestCache_TestContextProperty(t *testing.T) {
	base := testClass("Base", "")
	base.ContextProperties = []introspect.ContextPropertyRecord{{Name: "TestContext", Type: introspect.TypeTestContext, Settable: true}}
	readOnly := testClass("ReadOnly", "", method("TestIt", introspect.MarkerTestMethod))
	readOnly.ContextProperties = []introspect.ContextPropertyRecord{{Name: "TestContext", Type: introspect.TypeTestContext}}
	in := newMockIntrospector(
		base,
		testClass("Derived", "Base", method("TestIt", introspect.MarkerTestMethod)),
		readOnly,
		testClass("Plain", "", method("TestIt", introspect.MarkerTestMethod)),
	)
	cache := newCache(t, in)

	derived, err := cache.ClassMetadata(types.ClassKey{Container: container, Class: "Derived"})
	require.NoError(t, err)
	require.NotNil(t, derived.TestContextProperty)
	assert.Equal(t, "TestContext", derived.TestContextProperty.Name)

	for _, class := range []string{"ReadOnly", "Plain"} {
		meta, err := cache.ClassMetadata(types.ClassKey{Container: container, Class: class})
		require.NoError(t, err)
		assert.Nil(t, meta.TestContextProperty, class)
	}
}

func TestCache_LifecycleQueues(t *testing.T) {
	in := newMockIntrospector(
		testClass("Root", "",
			method("RootInit", introspect.MarkerTestInitialize),
			method("RootCleanup", introspect.MarkerTestCleanup),
		),
		testClass("Mid", "Root",
			method("MidInit", introspect.MarkerTestInitialize),
			method("MidCleanup", introspect.MarkerTestCleanup),
		),
		testClass("Derived", "Mid",
			method("Init", introspect.MarkerTestInitialize),
			method("Cleanup", introspect.MarkerTestCleanup),
			method("Setup", introspect.MarkerClassInitialize),
			method("Teardown", introspect.MarkerClassCleanup),
			method("TestIt", introspect.MarkerTestMethod),
		),
	)
	cache := newCache(t, in)

	class, assembly, err := cache.Resolve(types.NewTestDefinition(container, "Derived", "TestIt"))
	require.NoError(t, err)
	require.NotNil(t, assembly)

	names := func(ms []*MethodInfo) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.String())
		}
		return out
	}
	assert.Equal(t, []string{"Root.RootInit", "Mid.MidInit"}, names(class.BaseTestInitializeQueue), "base initializers run outermost first")
	assert.Equal(t, []string{"Mid.MidCleanup", "Root.RootCleanup"}, names(class.BaseTestCleanupQueue), "base cleanups run innermost first")
	assert.Equal(t, "Derived.Init", class.TestInitialize.String())
	assert.Equal(t, "Derived.Cleanup", class.TestCleanup.String())
	assert.Equal(t, "Setup", class.ClassInitialize.Name())
	assert.Equal(t, "Teardown", class.ClassCleanup.Name())
}

func TestCache_InheritedTestMethod(t *testing.T) {
	in := newMockIntrospector(
		testClass("Base", "", method("TestShared", introspect.MarkerTestMethod)),
		testClass("Derived", "Base"),
	)
	cache := newCache(t, in)

	info, err := cache.ResolveTestMethod(types.NewTestDefinition(container, "Derived", "TestShared"))
	require.NoError(t, err)
	assert.Equal(t, "Base", info.Method.Class)
	assert.Equal(t, types.ClassKey{Container: container, Class: "Derived"}, info.Class.Key)
}

func TestCache_AssemblyMetadata(t *testing.T) {
	helper := testClass("Helper", "", method("NotUsed", introspect.MarkerAssemblyInitialize))
	helper.IsTestClass = false

	in := new(MockIntrospector)
	good := testClass("Good", "", method("TestA", introspect.MarkerTestMethod), method("Boot", introspect.MarkerAssemblyInitialize))
	other := testClass("Other", "", method("TestB", introspect.MarkerTestMethod), method("Shutdown", introspect.MarkerAssemblyCleanup))
	in.On("Classes", container).Return([]string{"Broken", "Helper", "Good", "Other"}, nil)
	in.On("LoadClass", container, "Broken").Return(nil, errors.New("boom"))
	in.On("LoadClass", container, "Helper").Return(&helper, nil)
	in.On("LoadClass", container, "Good").Return(&good, nil)
	in.On("LoadClass", container, "Other").Return(&other, nil)
	cache := newCache(t, in)

	assembly, err := cache.AssemblyMetadata(container)
	require.NoError(t, err)
	assert.Equal(t, "Good.Boot", assembly.AssemblyInitialize.String())
	assert.Equal(t, "Other.Shutdown", assembly.AssemblyCleanup.String())

	again, err := cache.AssemblyMetadata(container)
	require.NoError(t, err)
	assert.Same(t, assembly, again)

	// The broken class is retried when resolved directly and fails only itself
	_, err = cache.ResolveTestMethod(types.NewTestDefinition(container, "Broken", "TestX"))
	require.ErrorIs(t, err, ErrClassLoad)
	assert.Equal(t, "Unable to get type Broken. Error: boom", err.Error())
	in.AssertNumberOfCalls(t, "LoadClass", 5)

	info, err := cache.ResolveTestMethod(types.NewTestDefinition(container, "Other", "TestB"))
	require.NoError(t, err)
	assert.True(t, info.IsRunnable())
	in.AssertNumberOfCalls(t, "LoadClass", 5)
}

func TestCache_FailedLoadIsRetried(t *testing.T) {
	record := testClass("Flaky", "", method("TestIt", introspect.MarkerTestMethod))
	in := new(MockIntrospector)
	in.On("Classes", container).Return([]string{"Flaky"}, nil)
	in.On("LoadClass", container, "Flaky").Return(nil, errors.New("transient")).Once()
	in.On("LoadClass", container, "Flaky").Return(&record, nil)
	cache := newCache(t, in)

	def := types.NewTestDefinition(container, "Flaky", "TestIt")
	_, err := cache.ResolveTestMethod(def)
	require.ErrorIs(t, err, ErrClassLoad)

	info, err := cache.ResolveTestMethod(def)
	require.NoError(t, err)
	assert.Equal(t, "TestIt", info.Method.Name())
}

func TestCache_ResolutionErrors(t *testing.T) {
	negative := -time.Second
	badInit := method("Init", introspect.MarkerTestInitialize)
	badInit.Signature.Static = true
	badClassInit := method("Setup", introspect.MarkerClassInitialize)
	badClassInit.Signature.Params = nil
	badTest := method("TestIt", introspect.MarkerTestMethod)
	badTest.Signature.Returns = "int"
	timeoutTest := method("TestIt", introspect.MarkerTestMethod)
	timeoutTest.Timeout = &negative
	noFile := method("TestIt", introspect.MarkerTestMethod)
	noFile.DataSource = &introspect.DataSourceRecord{AccessMethod: "Sequential"}

	tests := []struct {
		name    string
		records []introspect.ClassRecord
		kind    error
		message string
	}{
		{
			name: "no default constructor",
			records: []introspect.ClassRecord{func() introspect.ClassRecord {
				r := testClass("C", "", method("TestIt", introspect.MarkerTestMethod))
				r.HasDefaultConstructor = false
				return r
			}()},
			kind:    ErrNoDefaultConstructor,
			message: "Unable to get default constructor for class C.",
		},
		{
			name: "test context with incorrect type",
			records: []introspect.ClassRecord{func() introspect.ClassRecord {
				r := testClass("C", "", method("TestIt", introspect.MarkerTestMethod))
				r.ContextProperties = []introspect.ContextPropertyRecord{{Name: "TestContext", Type: "string", Settable: true}}
				return r
			}()},
			kind:    ErrTestContextType,
			message: "The C.TestContext has incorrect type.",
		},
		{
			name: "ambiguous test context",
			records: []introspect.ClassRecord{func() introspect.ClassRecord {
				r := testClass("C", "", method("TestIt", introspect.MarkerTestMethod))
				r.ContextProperties = []introspect.ContextPropertyRecord{
					{Name: "TestContext", Type: introspect.TypeTestContext, Settable: true},
					{Name: "TestContext", Type: introspect.TypeTestContext, Settable: true},
				}
				return r
			}()},
			kind:    ErrTestContextAmbiguous,
			message: "Unable to find property C.TestContext. Error:Ambiguous match found.",
		},
		{
			name:    "static test initialize",
			records: []introspect.ClassRecord{testClass("C", "", badInit, method("TestIt", introspect.MarkerTestMethod))},
			kind:    ErrLifecycleSignature,
			message: "Method C.Init has wrong signature. The method must be non-static, public, does not return a value and should not take any parameter. Additionally, if you are using async-await in method then return-type must be Task.",
		},
		{
			name:    "class initialize without context",
			records: []introspect.ClassRecord{testClass("C", "", badClassInit, method("TestIt", introspect.MarkerTestMethod))},
			kind:    ErrLifecycleSignature,
			message: "Method C.Setup has wrong signature. The method must be static, public, does not return a value and should take a single parameter of type TestContext. Additionally, if you are using async-await in method then return-type must be Task.",
		},
		{
			name: "two test initializers",
			records: []introspect.ClassRecord{testClass("C", "",
				method("InitA", introspect.MarkerTestInitialize),
				method("InitB", introspect.MarkerTestInitialize),
				method("TestIt", introspect.MarkerTestMethod))},
			kind:    ErrDuplicateLifecycle,
			message: "UTA017: C: Cannot define more than one method with the TestInitialize attribute.",
		},
		{
			name: "two assembly initializers",
			records: []introspect.ClassRecord{
				testClass("C", "", method("BootA", introspect.MarkerAssemblyInitialize), method("TestIt", introspect.MarkerTestMethod)),
				testClass("D", "", method("BootB", introspect.MarkerAssemblyInitialize)),
			},
			kind:    ErrDuplicateLifecycle,
			message: "UTA014: ./pkg/calc: Cannot define more than one method with the AssemblyInitialize attribute inside an assembly.",
		},
		{
			name:    "missing test method",
			records: []introspect.ClassRecord{testClass("C", "")},
			kind:    ErrMethodNotFound,
			message: "Method C.TestIt does not exist.",
		},
		{
			name:    "test method returning a value",
			records: []introspect.ClassRecord{testClass("C", "", badTest)},
			kind:    ErrTestMethodSignature,
		},
		{
			name:    "negative timeout",
			records: []introspect.ClassRecord{testClass("C", "", timeoutTest)},
			kind:    ErrInvalidTimeout,
			message: "UTA054: C.TestIt has invalid Timeout attribute. The timeout must be a valid integer value and cannot be less than 0.",
		},
		{
			name:    "data source without rows",
			records: []introspect.ClassRecord{testClass("C", "", noFile)},
			kind:    ErrDataSource,
		},
		{
			name: "inheritance cycle",
			records: []introspect.ClassRecord{
				testClass("C", "D", method("TestIt", introspect.MarkerTestMethod)),
				testClass("D", "C"),
			},
			kind: ErrClassLoad,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newCache(t, newMockIntrospector(tt.records...))
			_, err := cache.ResolveTestMethod(types.NewTestDefinition(container, "C", "TestIt"))
			require.Error(t, err)
			require.ErrorIs(t, err, tt.kind)
			require.True(t, IsResolutionError(err))
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
		})
	}
}

func TestCache_CustomProperties(t *testing.T) {
	withProps := func(props ...types.Property) introspect.MethodRecord {
		m := method("TestIt", introspect.MarkerTestMethod)
		m.Properties = props
		return m
	}

	tests := []struct {
		name   string
		method introspect.MethodRecord
		reason string
		props  map[string]string
	}{
		{
			name:   "valid",
			method: withProps(types.Property{Name: "Area", Value: "math"}),
			props:  map[string]string{"Area": "math"},
		},
		{
			name:   "predefined",
			method: withProps(types.Property{Name: "Owner", Value: "bob"}),
			reason: "UTA023: C: Cannot define predefined property Owner on method TestIt.",
		},
		{
			name:   "empty name",
			method: withProps(types.Property{Name: "", Value: "x"}),
			reason: "UTA021: C: Null or empty custom property defined on method TestIt. The custom property must have a valid name.",
		},
		{
			name:   "duplicate",
			method: withProps(types.Property{Name: "WhoAmI", Value: "Me"}, types.Property{Name: "WhoAmI", Value: "Me"}),
			reason: "UTA022: C.TestIt: The custom property \"WhoAmI\" is already defined. Using \"Me\" as value.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newCache(t, newMockIntrospector(testClass("C", "", tt.method)))
			info, err := cache.ResolveTestMethod(types.NewTestDefinition(container, "C", "TestIt"))
			require.NoError(t, err)
			assert.Equal(t, tt.reason, info.NotRunnableReason)
			assert.Equal(t, tt.reason == "", info.IsRunnable())
			if tt.props != nil {
				assert.Equal(t, tt.props, info.Properties)
			}

			// The reason is reproducible across resolutions
			again, err := newCache(t, newMockIntrospector(testClass("C", "", tt.method))).
				ResolveTestMethod(types.NewTestDefinition(container, "C", "TestIt"))
			require.NoError(t, err)
			assert.Equal(t, info.NotRunnableReason, again.NotRunnableReason)
		})
	}
}

func TestCache_DataSource(t *testing.T) {
	rows := method("TestRows", introspect.MarkerTestMethod)
	rows.DataRows = [][]any{{1}, {2}}
	fromFile := method("TestFile", introspect.MarkerTestMethod)
	fromFile.DataSource = &introspect.DataSourceRecord{AccessMethod: "Random", File: "rows.yaml", Table: "t"}
	timed := method("TestTimed", introspect.MarkerTestMethod)
	timeout := 3 * time.Second
	timed.Timeout = &timeout

	cache := newCache(t, newMockIntrospector(testClass("C", "", rows, fromFile, timed)))

	info, err := cache.ResolveTestMethod(types.NewTestDefinition(container, "C", "TestRows"))
	require.NoError(t, err)
	require.NotNil(t, info.DataSource)
	assert.Equal(t, "Sequential", info.DataSource.AccessMethod)
	assert.Len(t, info.DataSource.Rows, 2)

	info, err = cache.ResolveTestMethod(types.NewTestDefinition(container, "C", "TestFile"))
	require.NoError(t, err)
	assert.Equal(t, &types.DataSource{AccessMethod: "Random", File: "rows.yaml", Table: "t"}, info.DataSource)

	info, err = cache.ResolveTestMethod(types.NewTestDefinition(container, "C", "TestTimed"))
	require.NoError(t, err)
	assert.Nil(t, info.DataSource)
	assert.Equal(t, timeout, info.Timeout)
}

func TestCache_ConcurrentResolve(t *testing.T) {
	in := newMockIntrospector(testClass("C", "", method("TestIt", introspect.MarkerTestMethod)))
	cache := newCache(t, in)
	key := types.ClassKey{Container: container, Class: "C"}

	const workers = 32
	results := make([]*ClassMetadata, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meta, err := cache.ClassMetadata(key)
			assert.NoError(t, err)
			results[i] = meta
		}()
	}
	wg.Wait()

	for _, meta := range results {
		assert.Same(t, results[0], meta)
	}
	in.AssertNumberOfCalls(t, "LoadClass", 1)
}

func TestCache_Discover(t *testing.T) {
	in := new(MockIntrospector)
	good := testClass("Good", "", method("TestA", introspect.MarkerTestMethod), method("Init", introspect.MarkerTestInitialize))
	in.On("Classes", container).Return([]string{"Broken", "Good"}, nil)
	in.On("LoadClass", container, "Broken").Return(nil, errors.New("boom"))
	in.On("LoadClass", container, "Good").Return(&good, nil)
	cache := newCache(t, in)

	var failed []string
	tests, err := cache.Discover(container, func(class string, err error) { failed = append(failed, class) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Broken"}, failed)
	require.Len(t, tests, 1)
	assert.Equal(t, "Good.TestA", tests[0].FullyQualifiedName())

	// Discovery warms the record cache; the failed class is loaded again by the assembly scan
	_, err = cache.ResolveTestMethod(tests[0])
	require.NoError(t, err)
	assert.Equal(t, 1, loadCalls(in, "Good"))
	assert.Equal(t, 2, loadCalls(in, "Broken"))
}

// loadCalls counts the LoadClass calls made for class
func loadCalls(in *MockIntrospector, class string) int {
	n := 0
	for _, call := range in.Calls {
		if call.Method == "LoadClass" && call.Arguments.String(1) == class {
			n++
		}
	}
	return n
}
