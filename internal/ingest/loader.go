package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/finchlabs/docquery/internal/chunker"
	"github.com/finchlabs/docquery/internal/log"
)

// defaultExtensions are the file types loaded when no explicit list is
// configured.
var defaultExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".rst":  true,
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".java": true,
	".rs":   true,
	".sh":   true,
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
	".html": true,
	".sql":  true,
}

// MaxFileSize caps a single loaded file. Larger files are skipped with a
// log entry rather than failing the run.
const MaxFileSize = 4 << 20 // 4MB

// ErrUnsupportedFile indicates an extension outside the configured set.
var ErrUnsupportedFile = errors.New("unsupported file type")

// Loader reads documents from the filesystem for ingestion.
type Loader struct {
	extensions map[string]bool
	logger     log.Logger
}

// NewLoader creates a Loader. extensions override the default set when
// non-empty; matching is case-insensitive.
func NewLoader(extensions []string, logger log.Logger) *Loader {
	extMap := make(map[string]bool, len(extensions))
	if len(extensions) > 0 {
		for _, ext := range extensions {
			extMap[strings.ToLower(ext)] = true
		}
	} else {
		for k, v := range defaultExtensions {
			extMap[k] = v
		}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Loader{extensions: extMap, logger: logger}
}

// LoadFile reads a single file as one document. The file is accessed
// through an os.Root anchored at its parent directory so symlinks cannot
// escape it.
func (l *Loader) LoadFile(path string) (chunker.Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return chunker.Document{}, fmt.Errorf("resolve path: %w", err)
	}

	root, err := os.OpenRoot(filepath.Dir(absPath))
	if err != nil {
		return chunker.Document{}, fmt.Errorf("open root: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	name := filepath.Base(absPath)
	info, err := root.Stat(name)
	if err != nil {
		return chunker.Document{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return chunker.Document{}, fmt.Errorf("%s is a directory, use LoadDir", path)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !l.extensions[ext] {
		return chunker.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
	if info.Size() > MaxFileSize {
		return chunker.Document{}, fmt.Errorf("file %s (%d bytes) exceeds %d byte limit", name, info.Size(), MaxFileSize)
	}

	content, err := root.ReadFile(name)
	if err != nil {
		return chunker.Document{}, fmt.Errorf("read file: %w", err)
	}

	return chunker.Document{Path: absPath, Text: string(content)}, nil
}

// LoadDir walks dir recursively and loads every supported file. Unsupported
// types, oversized files, and gitignored paths are skipped with a log
// entry. Document paths are relative to dir.
func (l *Loader) LoadDir(dir string) ([]chunker.Document, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}

	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("open root: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	// A malformed .gitignore is ignored rather than failing the walk.
	var gitIgnore *ignore.GitIgnore
	if _, err := root.Stat(".gitignore"); err == nil {
		gitIgnore, _ = ignore.CompileIgnoreFile(filepath.Join(absDir, ".gitignore"))
	}

	var docs []chunker.Document
	err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			if gitIgnore != nil && path != "." && gitIgnore.MatchesPath(path+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if gitIgnore != nil && gitIgnore.MatchesPath(path) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !l.extensions[ext] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxFileSize {
			l.logger.Warn("skipping oversized file", "path", path, "size", info.Size(), "limit", MaxFileSize)
			return nil
		}

		content, err := root.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}

		docs = append(docs, chunker.Document{Path: path, Text: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	return docs, nil
}
