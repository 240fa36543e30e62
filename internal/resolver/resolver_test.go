package resolver

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	src := `{:pod/name org.babashka/instaparse
 :pod/description "Instaparse as a pod"
 :pod/version "0.0.6"
 :pod/artifacts
 [{:os/name "Linux"
   :os/arch "amd64"
   :artifact/url "https://example.com/pod-linux-amd64.zip"
   :artifact/sha256 "abc123"
   :artifact/executable "pod-babashka-instaparse"}
  {:os/name "Mac OS X"
   :os/arch "x86_64"
   :artifact/url "https://example.com/pod-macos-x86_64.zip"
   :artifact/executable "pod-babashka-instaparse"}]}`

	m, err := parseManifest(src)
	require.NoError(t, err)
	assert.Equal(t, "org.babashka/instaparse", m.Name)
	assert.Equal(t, "0.0.6", m.Version)
	require.Len(t, m.Artifacts, 2)
	assert.Equal(t, "Linux", m.Artifacts[0].OSName)
	assert.Equal(t, "amd64", m.Artifacts[0].Arch)
	assert.Equal(t, "abc123", m.Artifacts[0].SHA256)
	assert.Equal(t, "pod-babashka-instaparse", m.Artifacts[0].Executable)
}

func TestParseManifestNoArtifacts(t *testing.T) {
	_, err := parseManifest(`{:pod/name a/b :pod/version "1"}`)
	assert.Error(t, err)
}

func TestSelectArtifact(t *testing.T) {
	m := &Manifest{Artifacts: []Artifact{
		{OSName: "Linux", Arch: "amd64", URL: "linux-amd64"},
		{OSName: "Linux", Arch: "aarch64", URL: "linux-aarch64"},
		{OSName: "Mac OS X", Arch: "x86_64", URL: "macos-x86_64"},
		{OSName: "Windows", Arch: "amd64", URL: "windows-amd64"},
	}}

	tests := []struct {
		name    string
		p       Platform
		wantURL string
		wantErr bool
	}{
		{name: "linux x86_64 via amd64", p: Platform{OS: "linux", Arch: "x86_64"}, wantURL: "linux-amd64"},
		{name: "linux aarch64", p: Platform{OS: "linux", Arch: "aarch64"}, wantURL: "linux-aarch64"},
		{name: "macos x86_64", p: Platform{OS: "macos", Arch: "x86_64"}, wantURL: "macos-x86_64"},
		{name: "macos aarch64 falls back to rosetta", p: Platform{OS: "macos", Arch: "aarch64"}, wantURL: "macos-x86_64"},
		{name: "windows", p: Platform{OS: "windows", Arch: "x86_64"}, wantURL: "windows-amd64"},
		{name: "unsupported", p: Platform{OS: "windows", Arch: "aarch64"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := selectArtifact(m, tt.p)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPlatformUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, a.URL)
		})
	}
}

func TestCacheRootPrecedence(t *testing.T) {
	t.Setenv("BABASHKA_PODS_DIR", "/explicit/pods")
	t.Setenv("XDG_CACHE_HOME", "/xdg")
	root, err := CacheRoot()
	require.NoError(t, err)
	assert.Equal(t, "/explicit/pods", root)

	t.Setenv("BABASHKA_PODS_DIR", "")
	root, err = CacheRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg", "babashka", "pods"), root)
}

// zipWith builds an in-memory zip holding name -> contents.
func zipWith(t *testing.T, name, contents string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(contents))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testRegistry(t *testing.T, artifact []byte, sha string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/org.babashka/instaparse/0.0.6/manifest.edn", func(w http.ResponseWriter, r *http.Request) {
		manifest := fmt.Sprintf(`{:pod/name org.babashka/instaparse
 :pod/version "0.0.6"
 :pod/artifacts
 [{:os/name "Linux"
   :os/arch "amd64"
   :artifact/url "%s/artifact.zip"
   :artifact/sha256 "%s"
   :artifact/executable "pod-babashka-instaparse"}]}`, "http://"+r.Host, sha)
		_, _ = w.Write([]byte(manifest))
	})
	mux.HandleFunc("/artifact.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(artifact)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveDownloadsAndCaches(t *testing.T) {
	artifact := zipWith(t, "pod-babashka-instaparse", "#!/bin/sh\necho pod\n")
	sum := sha256.Sum256(artifact)
	srv := testRegistry(t, artifact, hex.EncodeToString(sum[:]))

	cache := t.TempDir()
	r := &Resolver{
		BaseURL:  srv.URL,
		CacheDir: cache,
		Platform: Platform{OS: "linux", Arch: "x86_64"},
	}

	res, err := r.Resolve(context.Background(), "org.babashka/instaparse", "0.0.6", false)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	wantDir := filepath.Join(cache, "repository", "org.babashka", "instaparse", "0.0.6", "linux", "x86_64")
	assert.Equal(t, filepath.Join(wantDir, "pod-babashka-instaparse"), res.Entrypoint)

	info, err := os.Stat(res.Entrypoint)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// Second resolve reuses the ledger row without re-downloading.
	res2, err := r.Resolve(context.Background(), "org.babashka/instaparse", "0.0.6", false)
	require.NoError(t, err)
	assert.True(t, res2.Cached)
	assert.Equal(t, res.Entrypoint, res2.Entrypoint)

	// Force ignores the cache.
	res3, err := r.Resolve(context.Background(), "org.babashka/instaparse", "0.0.6", true)
	require.NoError(t, err)
	assert.False(t, res3.Cached)
}

func TestResolveChecksumMismatch(t *testing.T) {
	artifact := zipWith(t, "pod-babashka-instaparse", "binary")
	srv := testRegistry(t, artifact, "0000000000000000000000000000000000000000000000000000000000000000")

	r := &Resolver{
		BaseURL:  srv.URL,
		CacheDir: t.TempDir(),
		Platform: Platform{OS: "linux", Arch: "x86_64"},
	}
	_, err := r.Resolve(context.Background(), "org.babashka/instaparse", "0.0.6", false)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestResolveManifestMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	r := &Resolver{
		BaseURL:  srv.URL,
		CacheDir: t.TempDir(),
		Platform: Platform{OS: "linux", Arch: "x86_64"},
	}
	_, err := r.Resolve(context.Background(), "org.babashka/missing", "1.0.0", false)
	assert.ErrorIs(t, err, ErrManifestMissing)
}

func TestResolveTamperedCacheReinstalls(t *testing.T) {
	artifact := zipWith(t, "pod-babashka-instaparse", "original")
	sum := sha256.Sum256(artifact)
	srv := testRegistry(t, artifact, hex.EncodeToString(sum[:]))

	cache := t.TempDir()
	r := &Resolver{
		BaseURL:  srv.URL,
		CacheDir: cache,
		Platform: Platform{OS: "linux", Arch: "x86_64"},
	}

	res, err := r.Resolve(context.Background(), "org.babashka/instaparse", "0.0.6", false)
	require.NoError(t, err)

	// Corrupt the cached entrypoint; the receipt check must reject it.
	require.NoError(t, os.WriteFile(res.Entrypoint, []byte("tampered"), 0o755))

	res2, err := r.Resolve(context.Background(), "org.babashka/instaparse", "0.0.6", false)
	require.NoError(t, err)
	assert.False(t, res2.Cached)

	data, err := os.ReadFile(res2.Entrypoint)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestInstallRawBinary(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "download")
	require.NoError(t, os.WriteFile(src, []byte("elf"), 0o644))

	target := filepath.Join(dir, "target")
	entry, err := install(src, "https://example.com/pod-foo", "", target)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(target, "pod-foo"), entry)

	info, err := os.Stat(entry)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestLedgerRoundTrip(t *testing.T) {
	root := t.TempDir()
	ledger, err := OpenLedger(context.Background(), root)
	require.NoError(t, err)
	defer ledger.Close()

	p := Platform{OS: "linux", Arch: "x86_64"}
	got, err := ledger.Get(context.Background(), "a/b", "1.0.0", p)
	require.NoError(t, err)
	assert.Nil(t, got)

	in := Install{
		Coordinate: "a/b",
		Version:    "1.0.0",
		OS:         p.OS,
		Arch:       p.Arch,
		URL:        "https://example.com/a.zip",
		SHA256:     "deadbeef",
		Entrypoint: "/cache/a/b/bin",
		Receipt:    "r1",
	}
	require.NoError(t, ledger.Record(context.Background(), in))

	got, err = ledger.Get(context.Background(), "a/b", "1.0.0", p)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "deadbeef", got.SHA256)
	assert.Equal(t, "r1", got.Receipt)

	// Upsert replaces the receipt.
	in.Receipt = "r2"
	require.NoError(t, ledger.Record(context.Background(), in))
	got, err = ledger.Get(context.Background(), "a/b", "1.0.0", p)
	require.NoError(t, err)
	assert.Equal(t, "r2", got.Receipt)
}
