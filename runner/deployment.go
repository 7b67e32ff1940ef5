package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// DeploymentItemProperty is the custom property naming a file or directory, relative to the
// container, that a test needs deployed next to it
const DeploymentItemProperty = "DeploymentItem"

// Deployment stages the files of a run before any test executes
type Deployment interface {
	// Deploy stages the files needed by tests and reports whether anything was deployed
	Deploy(tests []types.TestDefinition, runCtx RunContext) (bool, error)
	// DeploymentDirectory is the directory files were deployed to, empty before Deploy
	DeploymentDirectory() string
	// Cleanup removes the deployed files
	Cleanup() error
}

var _ Deployment = (*DirectoryDeployment)(nil)

// DirectoryDeploymentConfig contains deployment configuration
type DirectoryDeploymentConfig struct {
	Log log.Logger
	// Root is the directory run directories are created under
	Root string
	// Items are deployed for every run, relative to each container
	Items []string
}

// DirectoryDeployment copies deployment items into a fresh run directory under Root
type DirectoryDeployment struct {
	log   log.Logger
	root  string
	items []string
	dir   string
}

// NewDirectoryDeployment creates a deployment rooted at cfg.Root
func NewDirectoryDeployment(cfg DirectoryDeploymentConfig) (*DirectoryDeployment, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("deployment root is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &DirectoryDeployment{log: cfg.Log, root: cfg.Root, items: cfg.Items}, nil
}

// Deploy copies the configured items and every DeploymentItem property of tests. Nothing is
// created when there is nothing to deploy.
func (d *DirectoryDeployment) Deploy(tests []types.TestDefinition, _ RunContext) (bool, error) {
	type item struct{ container, path string }
	seen := make(map[item]bool)
	var items []item
	add := func(container, path string) {
		it := item{container, path}
		if path == "" || seen[it] {
			return
		}
		seen[it] = true
		items = append(items, it)
	}
	for _, test := range tests {
		for _, p := range d.items {
			add(test.Container, p)
		}
		for _, p := range test.Properties {
			if strings.EqualFold(p.Name, DeploymentItemProperty) {
				add(test.Container, p.Value)
			}
		}
	}
	if len(items) == 0 {
		return false, nil
	}

	dir := filepath.Join(d.root, "run-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("creating deployment directory: %w", err)
	}
	d.dir = dir

	for _, it := range items {
		src := it.path
		if !filepath.IsAbs(src) {
			src = filepath.Join(it.container, src)
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if err := copyPath(src, dst); err != nil {
			return true, fmt.Errorf("deploying %s: %w", src, err)
		}
		d.log.Debug("Deployed item", "src", src, "dst", dst)
	}
	return true, nil
}

// DeploymentDirectory returns the run directory
func (d *DirectoryDeployment) DeploymentDirectory() string {
	return d.dir
}

// Cleanup removes the run directory
func (d *DirectoryDeployment) Cleanup() error {
	if d.dir == "" {
		return nil
	}
	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("removing deployment directory: %w", err)
	}
	d.dir = ""
	return nil
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.CopyFS(dst, os.DirFS(src)); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
