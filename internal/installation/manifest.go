package installation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ManifestFiles 是按优先级查找的模块清单文件名。
var ManifestFiles = []string{"bower.json", "package.json"}

// ErrManifestNotFound 表示模块目录中没有任何可识别的清单。
var ErrManifestNotFound = errors.New("module manifest not found")

// Manifest 是安装与编译阶段关心的清单字段子集。
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Main         MainFiles         `json:"main"`
	Dependencies map[string]string `json:"dependencies"`
}

// MainFiles 兼容 main 字段写成单个字符串或字符串数组两种格式。
type MainFiles []string

func (m *MainFiles) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*m = nil
		} else {
			*m = MainFiles{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("main must be a string or an array of strings: %w", err)
	}
	*m = list
	return nil
}

// ReadManifest 读取模块目录下第一个存在的清单文件。
func ReadManifest(moduleDir string) (Manifest, error) {
	for _, name := range ManifestFiles {
		raw, err := os.ReadFile(filepath.Join(moduleDir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Manifest{}, err
		}
		var manifest Manifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			return Manifest{}, fmt.Errorf("parse %s: %w", name, err)
		}
		return manifest, nil
	}
	return Manifest{}, ErrManifestNotFound
}
