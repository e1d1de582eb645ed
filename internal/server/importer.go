package server

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/internal/utils"
)

const documentExt = ".json"

// ImportDir loads every .json file under the root directory as a document
// and, when watching is enabled, adds the directories to the watcher.
func (s *Server) ImportDir(ctx context.Context) (int, error) {
	if s.config.RootDir == "" {
		return 0, nil
	}
	n := 0
	err := filepath.WalkDir(s.config.RootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if s.watcher != nil {
				return s.watcher.Add(path)
			}
			return nil
		}
		if !strings.HasSuffix(path, documentExt) {
			return nil
		}
		if err := s.importFile(ctx, path); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("importing %s: %w", s.config.RootDir, err)
	}
	return n, nil
}

// importFile stores the file at path unless the stored document already
// holds the same content.
func (s *Server) importFile(ctx context.Context, path string) error {
	id, err := s.getDocumentIDFromPath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Editors often emit several write events per save.
	sum := utils.CalculateHash(data)
	s.importMu.Lock()
	defer s.importMu.Unlock()
	if s.imported[path] == sum {
		return nil
	}

	root, err := document.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if cur, err := s.coord.Get(ctx, id); err == nil && document.Equal(cur.Root, root) {
		s.imported[path] = sum
		return nil
	}
	res, err := s.coord.Put(ctx, id, root, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	s.imported[path] = sum
	s.log.Info("imported document", "path", path, "id", id, "version", res.Document.Version)
	return nil
}

// watchFiles re-imports documents whose files change
func (s *Server) watchFiles() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					s.watcher.Add(event.Name)
					continue
				}
			}
			if !strings.HasSuffix(event.Name, documentExt) || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.log.Debug("file changed", "path", event.Name, "op", event.Op.String())
			if err := s.importFile(context.Background(), event.Name); err != nil {
				s.log.Warn("re-import failed", "path", event.Name, "err", err)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("watcher error", "err", err)
		}
	}
}

// getDocumentIDFromPath converts a file path under the root directory to a
// document id: the slash-separated relative path without extension.
func (s *Server) getDocumentIDFromPath(path string) (string, error) {
	relPath, err := filepath.Rel(s.config.RootDir, path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("%s is outside %s", path, s.config.RootDir)
	}
	return filepath.ToSlash(strings.TrimSuffix(relPath, documentExt)), nil
}
