// Package workspace owns the filesystem side of a sweep: the root directory
// every CASA task runs relative to, per-run project directories, removal of
// CASA's auxiliary files, and the final arrangement of products.
//
// A Workspace never changes the process working directory. It hands out
// absolute paths instead.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"simsweep/internal/logging"
)

// FITSExt is the extension of sky-model and product files.
const FITSExt = ".fits"

// Workspace is a sweep root directory.
type Workspace struct {
	Root string // absolute
}

// Layout names the directories products are organized into.
type Layout struct {
	OutputsSuffix string // <base><suffix>/ receives exported FITS products
	SimObsPrefix  string // <prefix><base>/ receives intermediate artifacts
}

// Organized reports where Organize put things.
type Organized struct {
	OutputsDir    string
	SimObsDir     string
	Products      []string // absolute destination paths
	Intermediates []string
}

// New opens root as a workspace.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Workspace{Root: abs}, nil
}

// Path resolves name against the workspace root. Absolute names are
// returned unchanged.
func (w *Workspace) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(w.Root, name)
}

// ProjectDir returns the directory CASA creates for a simobserve project.
func (w *Workspace) ProjectDir(project string) string {
	return filepath.Join(w.Root, project)
}

// ListFITS returns the names of regular *.fits entries of dir in directory
// listing order.
func ListFITS(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FITSExt) {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

// BaseName strips the directory and the .fits extension from a sky model path.
func BaseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), FITSExt)
}

// CleanupAux removes files matching any of patterns from a project
// directory and returns how many were removed. Subdirectories are left
// alone.
func (w *Workspace) CleanupAux(project string, patterns []string) (int, error) {
	return cleanupDir(w.ProjectDir(project), patterns)
}

// CleanupRoot removes files matching any of patterns from the workspace
// root itself, such as the <task>.last files CASA leaves in the directory a
// task ran in.
func (w *Workspace) CleanupRoot(patterns []string) (int, error) {
	return cleanupDir(w.Root, patterns)
}

func cleanupDir(dir string, patterns []string) (int, error) {
	removed := 0
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return removed, fmt.Errorf("bad cleanup pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			info, err := os.Lstat(match)
			if err != nil || info.IsDir() {
				continue
			}
			if err := os.Remove(match); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("failed to remove %s: %w", match, err)
			}
			removed++
		}
	}
	logging.WorkspaceDebug("Removed %d auxiliary files from %s", removed, dir)
	return removed, nil
}

// RemoveProject deletes a project directory and everything under it.
func (w *Workspace) RemoveProject(project string) error {
	dir := w.ProjectDir(project)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove project %s: %w", project, err)
	}
	logging.WorkspaceDebug("Removed project directory %s", dir)
	return nil
}

// Organize moves a file's products into <base><OutputsSuffix>/ and its
// intermediates into <SimObsPrefix><base>/, creating both as needed.
// Products must exist; intermediates that do not exist are skipped.
// Existing destinations are replaced.
func (w *Workspace) Organize(base string, products, intermediates []string, layout Layout) (*Organized, error) {
	out := &Organized{
		OutputsDir: filepath.Join(w.Root, base+layout.OutputsSuffix),
		SimObsDir:  filepath.Join(w.Root, layout.SimObsPrefix+base),
	}

	if len(products) > 0 {
		if err := os.MkdirAll(out.OutputsDir, 0755); err != nil {
			return out, fmt.Errorf("failed to create %s: %w", out.OutputsDir, err)
		}
	}
	for _, name := range products {
		dst, err := w.move(name, out.OutputsDir)
		if err != nil {
			return out, err
		}
		out.Products = append(out.Products, dst)
	}

	var present []string
	for _, name := range intermediates {
		if _, err := os.Lstat(w.Path(name)); err == nil {
			present = append(present, name)
		}
	}
	if len(present) > 0 {
		if err := os.MkdirAll(out.SimObsDir, 0755); err != nil {
			return out, fmt.Errorf("failed to create %s: %w", out.SimObsDir, err)
		}
	}
	for _, name := range present {
		dst, err := w.move(name, out.SimObsDir)
		if err != nil {
			return out, err
		}
		out.Intermediates = append(out.Intermediates, dst)
	}

	logging.Workspace("Organized %s: %d products, %d intermediates", base, len(out.Products), len(out.Intermediates))
	return out, nil
}

func (w *Workspace) move(name, dir string) (string, error) {
	src := w.Path(name)
	dst := filepath.Join(dir, filepath.Base(src))

	if src == dst {
		return dst, nil
	}
	// CASA images are directories, which rename cannot overwrite.
	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return "", fmt.Errorf("failed to replace %s: %w", dst, err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", src, dir, err)
	}
	logging.WorkspaceDebug("Moved %s -> %s", src, dst)
	return dst, nil
}
