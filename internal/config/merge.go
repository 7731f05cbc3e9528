package config

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var configExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// Merge combines the given configuration files, and every configuration file
// found below the given directories, into one YAML document. Files are merged
// in lexical path order; nested mappings merge key by key, anything else is
// replaced by later files. With conflictError set, two files assigning
// different values to the same key is an error.
func Merge(configFiles []string, conflictError bool) ([]byte, error) {

	var paths []string
	for _, f := range configFiles {
		if err := filepath.WalkDir(f, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if path != f && !slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))) {
				return nil // only explicitly named files may have other extensions
			}
			paths = append(paths, path)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	docs := make([]map[string]any, 0, len(paths))
	for _, f := range paths {
		bs, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %v: %v", f, err)
		}
		var x map[string]any
		if strings.EqualFold(filepath.Ext(f), ".toml") {
			err = toml.Unmarshal(bs, &x)
		} else {
			err = yaml.Unmarshal(bs, &x)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration file %v: %v", f, err)
		}
		docs = append(docs, x)
	}

	merged, err := merge(docs, "", conflictError)
	if err != nil {
		return nil, err
	}

	bs, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged configuration: %v", err)
	}

	return bs, nil
}

func merge(docs []map[string]any, path string, conflictError bool) (map[string]any, error) {
	result := make(map[string]any)
	for _, doc := range docs {
		for _, key := range slices.Sorted(maps.Keys(doc)) { // Sort keys to ensure deterministic merge errors.
			value := doc[key]
			if existing, ok := result[key]; ok {
				if existingMap, ok1 := existing.(map[string]any); ok1 {
					if valueMap, ok2 := value.(map[string]any); ok2 {
						var err error
						result[key], err = merge([]map[string]any{existingMap, valueMap}, path+"/"+key, conflictError)
						if err != nil {
							return nil, err
						}
						continue
					}
				}

				if conflictError && !reflect.DeepEqual(existing, value) {
					return nil, fmt.Errorf("conflict for config path %s", path+"/"+key)
				}
			}
			result[key] = value
		}
	}
	return result, nil
}

// Load merges the given configuration files and parses the result. Relative
// paths resolve against the directory of the first file (or the first
// directory itself).
func Load(configFiles []string) (*Root, error) {
	if len(configFiles) == 1 {
		if fi, err := os.Stat(configFiles[0]); err == nil && !fi.IsDir() {
			return ParseFile(configFiles[0])
		}
	}

	bs, err := Merge(configFiles, true)
	if err != nil {
		return nil, err
	}

	root, err := Parse(bs)
	if err != nil {
		return nil, err
	}

	if len(configFiles) > 0 {
		dir := configFiles[0]
		if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
			dir = filepath.Dir(dir)
		}
		if root.Dir, err = filepath.Abs(dir); err != nil {
			return nil, err
		}
	}
	return root, nil
}
