package introspect

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

var _ Introspector = (*Manifest)(nil)

// ManifestFile is the on-disk description of one container
type ManifestFile struct {
	Container string          `yaml:"container"`
	Classes   []ManifestClass `yaml:"classes"`
}

// ManifestClass is a class entry of a manifest. Unset booleans default to true.
type ManifestClass struct {
	Name               string                  `yaml:"name"`
	Base               string                  `yaml:"base,omitempty"`
	DefaultConstructor *bool                   `yaml:"defaultConstructor,omitempty"`
	TestClass          *bool                   `yaml:"testClass,omitempty"`
	ContextProperties  []ContextPropertyRecord `yaml:"contextProperties,omitempty"`
	Methods            []ManifestMethod        `yaml:"methods"`
}

// ManifestMethod is a method entry of a manifest. When Signature is omitted the method gets the
// valid signature for its first marker.
type ManifestMethod struct {
	MethodRecord `yaml:",inline"`
	Signature    *Signature `yaml:"signature,omitempty"`
}

// ManifestConfig contains manifest introspector configuration
type ManifestConfig struct {
	Log   log.Logger
	Files []string
}

// Manifest serves class records from YAML manifests. Each manifest describes one container.
type Manifest struct {
	log        log.Logger
	mu         sync.RWMutex
	containers map[string]map[string]*ClassRecord
	order      map[string][]string
	paths      []string
}

// NewManifest loads every manifest file in cfg
func NewManifest(cfg ManifestConfig) (*Manifest, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("at least one manifest file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	m := &Manifest{
		log:        cfg.Log,
		containers: make(map[string]map[string]*ClassRecord),
		order:      make(map[string][]string),
	}
	for _, path := range cfg.Files {
		if err := m.load(path); err != nil {
			return nil, fmt.Errorf("failed to load manifest %s: %w", path, err)
		}
	}
	cfg.Log.Debug("Manifests loaded", "files", len(cfg.Files), "containers", len(m.containers))
	return m, nil
}

// Containers returns the container paths in manifest order
func (m *Manifest) Containers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.paths)
}

// Classes implements Introspector
func (m *Manifest) Classes(container string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.order[container]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}
	return slices.Clone(order), nil
}

// LoadClass implements Introspector
func (m *Manifest) LoadClass(container, class string) (*ClassRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	classes, ok := m.containers[container]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}
	record, ok := classes[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrClassNotFound, class, container)
	}
	cp := *record
	cp.Methods = slices.Clone(record.Methods)
	return &cp, nil
}

func (m *Manifest) load(path string) error {
	mf, err := LoadManifestFile(path)
	if err != nil {
		return err
	}

	container := mf.Container
	switch {
	case container == "":
		container = path
	case !filepath.IsAbs(container):
		container = filepath.Join(filepath.Dir(path), container)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.containers[container]; exists {
		return fmt.Errorf("container %s is declared by more than one manifest", container)
	}
	classes := make(map[string]*ClassRecord, len(mf.Classes))
	var order []string
	for _, c := range mf.Classes {
		if c.Name == "" {
			return fmt.Errorf("class without a name in container %s", container)
		}
		if _, dup := classes[c.Name]; dup {
			return fmt.Errorf("class %s is declared twice in container %s", c.Name, container)
		}
		classes[c.Name] = c.toRecord(container)
		order = append(order, c.Name)
	}
	m.containers[container] = classes
	m.order[container] = order
	m.paths = append(m.paths, container)
	return nil
}

// LoadManifestFile reads and parses a manifest
func LoadManifestFile(path string) (*ManifestFile, error) {
	log.Debug("Reading manifest file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	var mf ManifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing manifest file: %w", err)
	}
	return &mf, nil
}

func (c ManifestClass) toRecord(container string) *ClassRecord {
	record := &ClassRecord{
		Container:             container,
		Name:                  c.Name,
		Base:                  c.Base,
		HasDefaultConstructor: boolOrTrue(c.DefaultConstructor),
		IsTestClass:           boolOrTrue(c.TestClass),
		ContextProperties:     c.ContextProperties,
	}
	for _, mm := range c.Methods {
		method := mm.MethodRecord
		switch {
		case mm.Signature != nil:
			method.Signature = *mm.Signature
		case len(method.Markers) > 0:
			method.Signature = DefaultSignature(method.Markers[0])
		default:
			method.Signature = DefaultSignature(MarkerTestMethod)
		}
		record.Methods = append(record.Methods, method)
	}
	return record
}

func boolOrTrue(b *bool) bool {
	return b == nil || *b
}
