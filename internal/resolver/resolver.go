// Package resolver turns a registry coordinate and version into a runnable
// pod entrypoint: manifest fetch, platform artifact selection, download with
// checksum verification, atomic cache install, and an install ledger that
// suppresses re-downloads.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/podium/internal/log"
)

// Resolver resolves registry coordinates against a manifest registry.
type Resolver struct {
	// BaseURL is the manifest root; DefaultBaseURL unless overridden.
	BaseURL string

	// CacheDir overrides the computed cache root.
	CacheDir string

	// Client is the HTTP client for manifest and artifact fetches.
	Client *http.Client

	// Platform overrides host detection.
	Platform Platform
}

// Resolved is a ready-to-run pod binary.
type Resolved struct {
	Coordinate string
	Version    string
	Entrypoint string
	Options    map[string]any
	Cached     bool
}

func (r *Resolver) base() string {
	if r.BaseURL != "" {
		return r.BaseURL
	}
	return DefaultBaseURL
}

func (r *Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (r *Resolver) platform() Platform {
	if r.Platform.OS != "" {
		return r.Platform
	}
	return HostPlatform()
}

func (r *Resolver) cacheRoot() (string, error) {
	if r.CacheDir != "" {
		return r.CacheDir, nil
	}
	return CacheRoot()
}

// Resolve installs (or reuses) the artifact for coordinate@version and
// returns its entrypoint. A ledger row whose blake3 receipt still matches the
// cached entrypoint short-circuits the download unless force is set.
func (r *Resolver) Resolve(ctx context.Context, coordinate, version string, force bool) (*Resolved, error) {
	qualifier, name, ok := strings.Cut(coordinate, "/")
	if !ok {
		return nil, fmt.Errorf("invalid coordinate %q, want qualifier/name", coordinate)
	}

	root, err := r.cacheRoot()
	if err != nil {
		return nil, err
	}
	p := r.platform()
	logger := log.WithComponent("resolver")

	ledger, err := OpenLedger(ctx, root)
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	if !force {
		if in, err := ledger.Get(ctx, coordinate, version, p); err != nil {
			return nil, err
		} else if in != nil {
			receipt, rerr := receiptOf(in.Entrypoint)
			if rerr == nil && receipt == in.Receipt {
				logger.Debug("using cached pod", "coordinate", coordinate, "version", version)
				return &Resolved{
					Coordinate: coordinate,
					Version:    version,
					Entrypoint: in.Entrypoint,
					Cached:     true,
				}, nil
			}
			logger.Warn("cached install failed verification, reinstalling",
				"coordinate", coordinate, "entrypoint", in.Entrypoint)
		}
	}

	manifest, err := fetchManifest(r.client(), manifestURL(r.base(), qualifier, name, version))
	if err != nil {
		return nil, err
	}
	artifact, err := selectArtifact(manifest, p)
	if err != nil {
		return nil, err
	}

	target := installDir(root, qualifier, name, version, p)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	logger.Info("downloading pod artifact", "coordinate", coordinate, "version", version, "url", artifact.URL)
	tmp, sum, err := download(r.client(), artifact.URL, root)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	if artifact.SHA256 != "" && !strings.EqualFold(artifact.SHA256, sum) {
		return nil, fmt.Errorf("%w: manifest %s, downloaded %s", ErrChecksumMismatch, artifact.SHA256, sum)
	}
	if artifact.SHA256 == "" {
		logger.Warn("manifest declares no checksum", "coordinate", coordinate, "url", artifact.URL)
	}

	entry, err := install(tmp, artifact.URL, artifact.Executable, target)
	if err != nil {
		return nil, err
	}

	receipt, err := receiptOf(entry)
	if err != nil {
		return nil, err
	}
	if err := ledger.Record(ctx, Install{
		Coordinate:  coordinate,
		Version:     version,
		OS:          p.OS,
		Arch:        p.Arch,
		URL:         artifact.URL,
		SHA256:      artifact.SHA256,
		Entrypoint:  entry,
		Receipt:     receipt,
		InstalledAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	logger.Info("pod installed", "coordinate", coordinate, "version", version, "entrypoint", entry)
	return &Resolved{
		Coordinate: coordinate,
		Version:    version,
		Entrypoint: entry,
		Options:    manifest.Options,
	}, nil
}
