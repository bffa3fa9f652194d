package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// ErrCacheNotFound はキャッシュディレクトリが存在しないことを示します。
var ErrCacheNotFound = errors.New("model cache directory not found")

// ResolveCacheDir は "~" を展開した絶対パスを返します。
func ResolveCacheDir(dir string) (string, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

// ClearDiskCache はモデルのディスクキャッシュを削除し、空のディレクトリを作り直します。
// 次回のロードではすべてのモデルが再ダウンロードされます。
func ClearDiskCache(dir string) (string, error) {
	path, err := ResolveCacheDir(dir)
	if err != nil {
		return "", err
	}
	if path == "/" || path == filepath.Dir(path) {
		return path, fmt.Errorf("refusing to clear %s", path)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return path, ErrCacheNotFound
	}
	if err != nil {
		return path, err
	}
	if !info.IsDir() {
		return path, fmt.Errorf("%s is not a directory", path)
	}

	if err := os.RemoveAll(path); err != nil {
		return path, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return path, fmt.Errorf("failed to recreate %s: %w", path, err)
	}
	return path, nil
}
