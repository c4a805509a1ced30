// Package fsutil locates configuration files on disk.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FindFilesByExtension recursively searches rootPath for files ending with
// extension. The result is sorted so that loading order is stable.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}

// ResolvePath expands path into the files to load. A directory is searched
// recursively for extension, a file must carry it.
func ResolvePath(path string, extension string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("path not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("error accessing path %s: %w", path, err)
	}
	if info.IsDir() {
		return FindFilesByExtension(path, extension)
	}
	if filepath.Ext(path) != extension {
		return nil, fmt.Errorf("specified file is not a %s file: %s", extension, path)
	}
	return []string{path}, nil
}
