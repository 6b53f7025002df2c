package action

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stagehand-ci/stagehand/internal/ctxlog"
)

// RegisterBuiltins installs the actions that ship with the engine.
func RegisterBuiltins(r *Registry) {
	r.Register("core/artifact-upload", uploadArtifact)
	r.Register("core/artifact-download", downloadArtifact)
}

// uploadArtifact copies files from the job workspace into the run's
// artifact store.
//
//	with:
//	  name: build-output     # required
//	  path: dist             # required; space-separated list of paths
func uploadArtifact(ctx context.Context, in *Input) error {
	logger := ctxlog.FromContext(ctx)

	name := in.With["name"]
	if name == "" {
		return fmt.Errorf("artifact-upload: 'name' input is required")
	}
	pathSpec := in.With["path"]
	if pathSpec == "" {
		return fmt.Errorf("artifact-upload: 'path' input is required")
	}

	var paths []string
	for _, p := range strings.Fields(pathSpec) {
		if !filepath.IsAbs(p) {
			p = filepath.Join(in.WorkDir, p)
		}
		paths = append(paths, p)
	}

	art, err := in.Artifacts.Upload(name, in.Job, paths)
	if err != nil {
		return err
	}
	in.RecordArtifact(name)
	logger.Info("Artifact uploaded.", "name", name, "files", len(art.Files))
	return nil
}

// downloadArtifact copies a named artifact's files into the job workspace.
//
//	with:
//	  name: build-output     # required
//	  path: incoming         # optional destination, default workspace root
func downloadArtifact(ctx context.Context, in *Input) error {
	logger := ctxlog.FromContext(ctx)

	name := in.With["name"]
	if name == "" {
		return fmt.Errorf("artifact-download: 'name' input is required")
	}
	dest := in.With["path"]
	if dest == "" {
		dest = "."
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(in.WorkDir, dest)
	}

	art, err := in.Artifacts.Download(name, dest)
	if err != nil {
		return err
	}
	logger.Info("Artifact downloaded.", "name", name, "files", len(art.Files), "dest", dest)
	return nil
}
