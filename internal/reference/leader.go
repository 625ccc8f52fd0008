package reference

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog читает все enum-справочники (*.yaml, *.yml) из каталога.
// Имя справочника берётся из поля name, иначе — из имени файла.
func LoadEnumCatalog(dir string) (map[string]EnumDirectory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]EnumDirectory, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var d EnumDirectory
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		name := d.Name
		if name == "" {
			name = strings.TrimSuffix(e.Name(), ext)
		}
		result[name] = d
	}
	return result, nil
}
