package resolver

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// CacheRoot resolves the pod cache directory: $BABASHKA_PODS_DIR, then
// $XDG_CACHE_HOME/babashka/pods, then ~/.cache/babashka/pods.
func CacheRoot() (string, error) {
	if dir := os.Getenv("BABASHKA_PODS_DIR"); dir != "" {
		return dir, nil
	}
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "babashka", "pods"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache root: %w", err)
	}
	return filepath.Join(home, ".cache", "babashka", "pods"), nil
}

// installDir is the per-artifact cache location under the cache root.
func installDir(root, qualifier, name, version string, p Platform) string {
	return filepath.Join(root, "repository", qualifier, name, version, p.OS, p.Arch)
}

// download fetches url to a temp file in dir and returns the path and the
// SHA-256 of the bytes.
func download(client *http.Client, url, dir string) (string, string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, "artifact-*")
	if err != nil {
		return "", "", fmt.Errorf("download: %w", err)
	}
	defer tmp.Close()

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("download %s: %w", url, err)
	}
	return tmp.Name(), hex.EncodeToString(hash.Sum(nil)), nil
}

// install places the downloaded artifact into target atomically: everything
// is staged in a sibling temp directory first, then renamed into place.
// Returns the entrypoint path.
func install(artifactPath, url, executable, target string) (string, error) {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	stage, err := os.MkdirTemp(parent, ".staging-*")
	if err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	defer os.RemoveAll(stage)

	switch {
	case strings.HasSuffix(url, ".zip"):
		if err := extractZip(artifactPath, stage); err != nil {
			return "", err
		}
	case strings.HasSuffix(url, ".tgz"), strings.HasSuffix(url, ".tar.gz"):
		if err := extractTar(artifactPath, stage, true); err != nil {
			return "", err
		}
	case strings.HasSuffix(url, ".tar"):
		if err := extractTar(artifactPath, stage, false); err != nil {
			return "", err
		}
	default:
		name := executable
		if name == "" {
			name = filepath.Base(url)
		}
		if err := copyFile(artifactPath, filepath.Join(stage, name)); err != nil {
			return "", err
		}
	}

	entry, err := findEntrypoint(stage, executable)
	if err != nil {
		return "", err
	}
	if err := os.Chmod(entry, 0o755); err != nil {
		return "", fmt.Errorf("install: chmod entrypoint: %w", err)
	}

	// Replace any half-installed previous attempt.
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	if err := os.Rename(stage, target); err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	rel, err := filepath.Rel(stage, entry)
	if err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	return filepath.Join(target, rel), nil
}

// findEntrypoint locates the pod executable inside the staged tree.
func findEntrypoint(stage, executable string) (string, error) {
	if executable != "" {
		var found string
		err := filepath.WalkDir(stage, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && d.Name() == executable {
				found = path
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("install: %w", err)
		}
		if found == "" {
			return "", fmt.Errorf("install: executable %q not in artifact", executable)
		}
		return found, nil
	}

	// No declared executable: a single regular file is the entrypoint.
	entries, err := os.ReadDir(stage)
	if err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(stage, e.Name()))
		}
	}
	if len(files) != 1 {
		return "", fmt.Errorf("install: cannot determine entrypoint among %d files", len(files))
	}
	return files[0], nil
}

func extractZip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("extract zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		out, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return fmt.Errorf("extract zip: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("extract zip: %w", err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("extract zip: %w", err)
		}
		err = writeFile(out, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(path, dest string, gzipped bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("extract tar: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("extract tar: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("extract tar: %w", err)
		}
		out, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(out, 0o755); err != nil {
				return fmt.Errorf("extract tar: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("extract tar: %w", err)
			}
			if err := writeFile(out, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		}
	}
}

// safeJoin rejects entries that would escape the destination.
func safeJoin(dest, name string) (string, error) {
	out := filepath.Join(dest, filepath.Clean("/"+name))
	if !strings.HasPrefix(out, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("extract: entry %q escapes destination", name)
	}
	return out, nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	defer in.Close()
	return writeFile(dst, in, 0o755)
}
