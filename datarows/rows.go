package datarows

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// ErrDataConnection is returned when the rows of a data source cannot be read
var ErrDataConnection = errors.New("data connection failed")

// ConnectionFailedMessage is the user facing message of a data source that could not be read
func ConnectionFailedMessage(err error) string {
	return fmt.Sprintf("The unit test adapter failed to connect to the data source or to read the data. Error details: %v", err)
}

// LoadFile reads rows from a YAML file. The file is either a list of rows or a mapping from table
// name to a list of rows. A mapping with a single table may be read without naming it.
func LoadFile(path, table string) ([][]any, error) {
	log.Debug("Reading data rows", "path", path, "table", table)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading row file: %w", ErrDataConnection, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: parsing row file: %w", ErrDataConnection, err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		if table != "" {
			return nil, fmt.Errorf("%w: row file %s has no tables, cannot select %q", ErrDataConnection, path, table)
		}
		return decodeRows(root)
	case yaml.MappingNode:
		var tables map[string]yaml.Node
		if err := root.Decode(&tables); err != nil {
			return nil, fmt.Errorf("%w: parsing tables: %w", ErrDataConnection, err)
		}
		if table == "" {
			if len(tables) != 1 {
				names := make([]string, 0, len(tables))
				for name := range tables {
					names = append(names, name)
				}
				sort.Strings(names)
				return nil, fmt.Errorf("%w: row file %s has tables %v, one must be selected", ErrDataConnection, path, names)
			}
			for name := range tables {
				table = name
			}
		}
		rows, ok := tables[table]
		if !ok {
			return nil, fmt.Errorf("%w: table %q not found in %s", ErrDataConnection, table, path)
		}
		return decodeRows(&rows)
	}
	return nil, fmt.Errorf("%w: row file %s must hold a list or a mapping of tables", ErrDataConnection, path)
}

// decodeRows accepts rows written as lists of values or as single scalars
func decodeRows(node *yaml.Node) ([][]any, error) {
	var raw []any
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding rows: %w", ErrDataConnection, err)
	}
	rows := make([][]any, 0, len(raw))
	for _, r := range raw {
		switch v := r.(type) {
		case []any:
			rows = append(rows, v)
		default:
			rows = append(rows, []any{v})
		}
	}
	return rows, nil
}

// Load returns the rows of a data source: the inline rows followed by the rows of its file. A
// relative file is resolved against baseDir.
func Load(ds *types.DataSource, baseDir string) ([][]any, error) {
	if ds == nil {
		return nil, nil
	}
	rows := slices.Clone(ds.Rows)
	if ds.File == "" {
		return rows, nil
	}

	path := ds.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	fileRows, err := LoadFile(path, ds.Table)
	if err != nil {
		return nil, err
	}
	return append(rows, fileRows...), nil
}
