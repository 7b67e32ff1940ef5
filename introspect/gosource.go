package introspect

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

var _ Introspector = (*GoSource)(nil)

// DirectivePrefix starts every comment line the Go-source introspector reads
const DirectivePrefix = "//testengine:"

var lifecycleDirectives = map[string]Marker{
	"test":                MarkerTestMethod,
	"initialize":          MarkerTestInitialize,
	"cleanup":             MarkerTestCleanup,
	"class-initialize":    MarkerClassInitialize,
	"class-cleanup":       MarkerClassCleanup,
	"assembly-initialize": MarkerAssemblyInitialize,
	"assembly-cleanup":    MarkerAssemblyCleanup,
}

// GoSourceConfig contains Go-source introspector configuration
type GoSourceConfig struct {
	Log log.Logger
	// WorkDir is the directory holding go.mod; relative containers are resolved against it
	WorkDir string
}

// GoSource reads class records from the _test.go files of a Go package. Containers are package
// paths, either relative ("./pkg") or import paths of the module rooted at WorkDir.
//
// Every top-level func named TestXxx is a test method of its file's class unless it carries a
// lifecycle directive. Supported directives:
//
//	//testengine:class Name            (file or func) class the declarations belong to
//	//testengine:base Name             (file) base class of the file's class
//	//testengine:initialize            (func) also cleanup, class-initialize, class-cleanup,
//	                                   assembly-initialize, assembly-cleanup and test
//	//testengine:ignore                (func)
//	//testengine:property Name=Value   (func)
//	//testengine:datarow 1, "two", 3.0 (func) one inline row, YAML flow values
//	//testengine:datasource Random rows.yaml [table]
//	//testengine:timeout 10s
//	//testengine:category a,b
//	//testengine:owner name
//	//testengine:priority 1
//	//testengine:description text
type GoSource struct {
	log     log.Logger
	workDir string
}

// NewGoSource creates a Go-source introspector
func NewGoSource(cfg GoSourceConfig) (*GoSource, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "."
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work dir: %w", err)
	}
	return &GoSource{log: cfg.Log, workDir: abs}, nil
}

// Classes implements Introspector
func (g *GoSource) Classes(container string) ([]string, error) {
	classes, _, err := g.parse(container)
	if err != nil {
		return nil, err
	}
	return classes, nil
}

// LoadClass implements Introspector. Each call re-reads the package so a fixed source file is
// picked up on retry.
func (g *GoSource) LoadClass(container, class string) (*ClassRecord, error) {
	_, records, err := g.parse(container)
	if err != nil {
		return nil, err
	}
	record, ok := records[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrClassNotFound, class, container)
	}
	if record.err != nil {
		return nil, record.err
	}
	return &record.ClassRecord, nil
}

// PackageDir resolves a container to the directory of its package
func (g *GoSource) PackageDir(container string) (string, error) {
	return ResolvePackageDir(container, g.workDir)
}

// ResolvePackageDir maps a package path to a directory. Relative paths are joined with
// workingDir; import paths must belong to the module declared by workingDir/go.mod.
func ResolvePackageDir(pkgPath string, workingDir string) (string, error) {
	if filepath.IsAbs(pkgPath) {
		return pkgPath, nil
	}
	if strings.HasPrefix(pkgPath, "./") || strings.HasPrefix(pkgPath, "../") || pkgPath == "." {
		return filepath.Join(workingDir, pkgPath), nil
	}

	goModPath := filepath.Join(workingDir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}

	moduleName := modFile.Module.Mod.Path
	if pkgPath != moduleName && !strings.HasPrefix(pkgPath, moduleName+"/") {
		return "", fmt.Errorf("package %s is not in module %s", pkgPath, moduleName)
	}
	relPath := strings.TrimPrefix(strings.TrimPrefix(pkgPath, moduleName), "/")
	if relPath == "" {
		relPath = "."
	}
	return filepath.Join(workingDir, relPath), nil
}

type parsedClass struct {
	ClassRecord
	err error
}

func (g *GoSource) parse(container string) ([]string, map[string]*parsedClass, error) {
	pkgDir, err := g.PackageDir(container)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrContainerNotFound, container, err)
	}
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read package directory: %v", ErrContainerNotFound, err)
	}

	var order []string
	records := make(map[string]*parsedClass)
	classFor := func(name string) *parsedClass {
		if c, ok := records[name]; ok {
			return c
		}
		c := &parsedClass{ClassRecord: ClassRecord{
			Container:             container,
			Name:                  name,
			HasDefaultConstructor: true,
			IsTestClass:           true,
		}}
		records[name] = c
		order = append(order, name)
		return c
	}

	fset := token.NewFileSet()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		filePath := filepath.Join(pkgDir, entry.Name())
		f, err := parser.ParseFile(fset, filePath, nil, parser.ParseComments)
		if err != nil {
			// The file's class is unknown, so the whole container is unusable
			return nil, nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}

		fileClass := strings.TrimSuffix(entry.Name(), "_test.go")
		var fileBase string
		for _, d := range directives(f.Doc) {
			switch d.key {
			case "class":
				fileClass = d.value
			case "base":
				fileBase = d.value
			}
		}
		if fileBase != "" {
			classFor(fileClass).Base = fileBase
		}

		for _, decl := range f.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Recv != nil {
				continue
			}
			ds := directives(funcDecl.Doc)
			name := funcDecl.Name.Name
			isTestFunc := strings.HasPrefix(name, "Test") && name != "TestMain"
			if len(ds) == 0 && !isTestFunc {
				continue
			}

			class := fileClass
			for _, d := range ds {
				if d.key == "class" {
					class = d.value
				}
			}
			c := classFor(class)

			method, err := methodFromDecl(funcDecl, ds, isTestFunc)
			if err != nil {
				g.log.Warn("Invalid testengine directive", "file", entry.Name(), "func", name, "err", err)
				if c.err == nil {
					c.err = fmt.Errorf("%s.%s: %w", class, name, err)
				}
				continue
			}
			if method == nil {
				continue
			}
			c.Methods = append(c.Methods, *method)
		}
	}

	g.log.Debug("Parsed Go test package", "container", container, "dir", pkgDir, "classes", len(order))
	return order, records, nil
}

type directive struct {
	key   string
	value string
}

func directives(doc *ast.CommentGroup) []directive {
	if doc == nil {
		return nil
	}
	var out []directive
	for _, c := range doc.List {
		if !strings.HasPrefix(c.Text, DirectivePrefix) {
			continue
		}
		body := strings.TrimPrefix(c.Text, DirectivePrefix)
		key, value, _ := strings.Cut(body, " ")
		out = append(out, directive{key: strings.TrimSpace(key), value: strings.TrimSpace(value)})
	}
	return out
}

func methodFromDecl(decl *ast.FuncDecl, ds []directive, isTestFunc bool) (*MethodRecord, error) {
	m := &MethodRecord{Name: decl.Name.Name}

	for _, d := range ds {
		switch d.key {
		case "class", "base":
		case "ignore":
			m.Ignored = true
		case "property":
			name, value, ok := strings.Cut(d.value, "=")
			if !ok {
				return nil, fmt.Errorf("property directive %q is not Name=Value", d.value)
			}
			m.Properties = append(m.Properties, types.Property{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
		case "datarow":
			var row []any
			if err := yaml.Unmarshal([]byte("["+d.value+"]"), &row); err != nil {
				return nil, fmt.Errorf("invalid datarow %q: %w", d.value, err)
			}
			m.DataRows = append(m.DataRows, row)
		case "datasource":
			fields := strings.Fields(d.value)
			if len(fields) < 2 {
				return nil, fmt.Errorf("datasource directive needs an access method and a file")
			}
			m.DataSource = &DataSourceRecord{AccessMethod: fields[0], File: fields[1]}
			if len(fields) > 2 {
				m.DataSource.Table = fields[2]
			}
		case "timeout":
			timeout, err := time.ParseDuration(d.value)
			if err != nil {
				return nil, fmt.Errorf("invalid timeout %q: %w", d.value, err)
			}
			m.Timeout = &timeout
		case "category":
			for _, cat := range strings.Split(d.value, ",") {
				if cat = strings.TrimSpace(cat); cat != "" {
					m.Categories = append(m.Categories, cat)
				}
			}
		case "owner":
			m.Owner = d.value
		case "priority":
			p, err := strconv.Atoi(d.value)
			if err != nil {
				return nil, fmt.Errorf("invalid priority %q: %w", d.value, err)
			}
			m.Priority = p
		case "description":
			m.Description = d.value
		default:
			marker, ok := lifecycleDirectives[d.key]
			if !ok {
				return nil, fmt.Errorf("unknown directive %q", d.key)
			}
			if !m.HasMarker(marker) {
				m.Markers = append(m.Markers, marker)
			}
		}
	}

	if len(m.Markers) == 0 {
		if !isTestFunc {
			return nil, nil
		}
		m.Markers = []Marker{MarkerTestMethod}
	}
	m.Signature = signatureOf(decl, m.Markers[0])
	return m, nil
}

// signatureOf maps a Go func onto a Signature. A func that takes nothing or a single test handle
// and returns nothing has the valid shape for its marker; any other shape is reported as-is so
// the metadata cache rejects it.
func signatureOf(decl *ast.FuncDecl, marker Marker) Signature {
	var params []string
	for _, field := range decl.Type.Params.List {
		typ := exprString(field.Type)
		if isTestHandle(typ) {
			typ = TypeTestContext
		}
		n := max(len(field.Names), 1)
		for range n {
			params = append(params, typ)
		}
	}
	var returns []string
	if decl.Type.Results != nil {
		for _, field := range decl.Type.Results.List {
			returns = append(returns, exprString(field.Type))
		}
	}
	generic := decl.Type.TypeParams != nil && len(decl.Type.TypeParams.List) > 0

	wellFormed := ast.IsExported(decl.Name.Name) && !generic && len(returns) == 0 &&
		(len(params) == 0 || slices.Equal(params, []string{TypeTestContext}))
	if wellFormed {
		return DefaultSignature(marker)
	}

	sig := Signature{
		Public:  ast.IsExported(decl.Name.Name),
		Static:  marker == MarkerClassInitialize || marker == MarkerClassCleanup || marker == MarkerAssemblyInitialize || marker == MarkerAssemblyCleanup,
		Params:  params,
		Generic: generic,
	}
	if len(returns) > 0 {
		sig.Returns = strings.Join(returns, ",")
	}
	return sig
}

func isTestHandle(typ string) bool {
	switch typ {
	case "*testing.T", "testing.TB", "*types.TestContext":
		return true
	}
	return false
}

func exprString(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		return "[]" + exprString(t.Elt)
	case *ast.Ellipsis:
		return "..." + exprString(t.Elt)
	case *ast.MapType:
		return "map[" + exprString(t.Key) + "]" + exprString(t.Value)
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.FuncType:
		return "func"
	default:
		return fmt.Sprintf("%T", e)
	}
}
