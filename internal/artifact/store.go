// Package artifact implements the local artifact store: named, immutable
// file bundles produced by one job and consumed by later jobs via name
// lookup. Bundles live under a per-run directory, so artifacts from
// concurrent runs never collide.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrDuplicate is returned when uploading under a name that already exists.
// Artifacts are immutable once uploaded.
var ErrDuplicate = errors.New("artifact already exists")

// ErrNotFound is returned when downloading an artifact no job has produced.
var ErrNotFound = errors.New("artifact not found")

// Artifact describes one uploaded bundle.
type Artifact struct {
	Name  string   `json:"name"`
	Job   string   `json:"job"`
	Files []string `json:"files"`
}

// Store is a thread-safe artifact registry backed by a directory tree.
type Store struct {
	root string

	mu     sync.Mutex
	byName map[string]Artifact
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &Store{root: dir, byName: make(map[string]Artifact)}, nil
}

// Upload copies the given files into the store under the artifact name.
// The name is claimed atomically before any file is copied, so two jobs
// racing on the same name cannot interleave a partial bundle.
func (s *Store) Upload(name, job string, paths []string) (Artifact, error) {
	if name == "" {
		return Artifact{}, fmt.Errorf("artifact name must not be empty")
	}
	if len(paths) == 0 {
		return Artifact{}, fmt.Errorf("artifact %q: no files to upload", name)
	}

	s.mu.Lock()
	if _, exists := s.byName[name]; exists {
		s.mu.Unlock()
		return Artifact{}, fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	// Claim the name with a placeholder while copying outside the lock.
	s.byName[name] = Artifact{Name: name, Job: job}
	s.mu.Unlock()

	dir := filepath.Join(s.root, name)
	files, err := s.copyIn(dir, paths)
	if err != nil {
		s.mu.Lock()
		delete(s.byName, name)
		s.mu.Unlock()
		os.RemoveAll(dir)
		return Artifact{}, fmt.Errorf("uploading artifact %q: %w", name, err)
	}

	art := Artifact{Name: name, Job: job, Files: files}
	s.mu.Lock()
	s.byName[name] = art
	s.mu.Unlock()
	return art, nil
}

func (s *Store) copyIn(dir string, paths []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var files []string
	for _, src := range paths {
		info, err := os.Stat(src)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			err = filepath.Walk(src, func(path string, fi os.FileInfo, werr error) error {
				if werr != nil || fi.IsDir() {
					return werr
				}
				rel, rerr := filepath.Rel(filepath.Dir(src), path)
				if rerr != nil {
					return rerr
				}
				if cerr := copyFile(path, filepath.Join(dir, rel)); cerr != nil {
					return cerr
				}
				files = append(files, rel)
				return nil
			})
			if err != nil {
				return nil, err
			}
			continue
		}
		base := filepath.Base(src)
		if err := copyFile(src, filepath.Join(dir, base)); err != nil {
			return nil, err
		}
		files = append(files, base)
	}
	sort.Strings(files)
	return files, nil
}

// Download copies the named artifact's files into destDir.
func (s *Store) Download(name, destDir string) (Artifact, error) {
	s.mu.Lock()
	art, ok := s.byName[name]
	s.mu.Unlock()
	if !ok || art.Files == nil {
		return Artifact{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Artifact{}, err
	}
	for _, rel := range art.Files {
		src := filepath.Join(s.root, name, rel)
		dst := filepath.Join(destDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return Artifact{}, err
		}
		if err := copyFile(src, dst); err != nil {
			return Artifact{}, fmt.Errorf("downloading artifact %q: %w", name, err)
		}
	}
	return art, nil
}

// List returns all uploaded artifacts sorted by name.
func (s *Store) List() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	arts := make([]Artifact, 0, len(s.byName))
	for _, art := range s.byName {
		if art.Files != nil {
			arts = append(arts, art)
		}
	}
	sort.Slice(arts, func(i, j int) bool { return arts[i].Name < arts[j].Name })
	return arts
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
