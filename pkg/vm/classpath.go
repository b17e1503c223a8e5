package vm

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ClassPath resolves class names to bytes across a list of directories
// and zip archives (jars).
type ClassPath struct {
	entries []classPathEntry
}

type classPathEntry interface {
	read(name string) ([]byte, error)
}

// ParseClassPath splits a platform-separated path list into entries.
// Missing entries are kept and simply never match, like a hosted VM.
func ParseClassPath(path string) *ClassPath {
	cp := &ClassPath{}
	for _, part := range filepath.SplitList(path) {
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)
		if strings.HasSuffix(lower, ".jar") || strings.HasSuffix(lower, ".zip") {
			cp.entries = append(cp.entries, &archiveEntry{path: part})
		} else {
			cp.entries = append(cp.entries, &dirEntry{path: part})
		}
	}
	return cp
}

// ReadClass returns the bytes of the named class, searching entries in
// order.
func (cp *ClassPath) ReadClass(name string) ([]byte, error) {
	for _, entry := range cp.entries {
		data, err := entry.read(name)
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("class %s not found on class path", name)
}

type dirEntry struct {
	path string
}

func (d *dirEntry) read(name string) ([]byte, error) {
	// Class names use '/'; translate to the host separator.
	rel := filepath.FromSlash(name) + ".class"
	return os.ReadFile(filepath.Join(d.path, rel))
}

type archiveEntry struct {
	path   string
	reader *zip.ReadCloser
}

func (a *archiveEntry) read(name string) ([]byte, error) {
	if a.reader == nil {
		r, err := zip.OpenReader(a.path)
		if err != nil {
			return nil, fmt.Errorf("opening archive %s: %w", a.path, err)
		}
		a.reader = r
	}

	target := name + ".class"
	for _, file := range a.reader.File {
		if file.Name == target {
			rc, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("opening %s in %s: %w", target, a.path, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("class %s not found in %s", name, a.path)
}
