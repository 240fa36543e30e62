package resolver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"runtime"

	"github.com/mattjoyce/podium/internal/format"
)

// Resolver errors. Callers match with errors.Is.
var (
	ErrManifestMissing     = errors.New("pod manifest not found")
	ErrPlatformUnsupported = errors.New("no artifact for this platform")
	ErrChecksumMismatch    = errors.New("artifact checksum mismatch")
)

// DefaultBaseURL is the pod registry manifest root.
const DefaultBaseURL = "https://raw.githubusercontent.com/babashka/pod-registry/master/manifests"

// Manifest is the parsed registry manifest for one pod version.
type Manifest struct {
	Name      string
	Version   string
	Artifacts []Artifact
	Options   map[string]any
}

// Artifact is one downloadable build of the pod.
type Artifact struct {
	OSName     string
	Arch       string
	URL        string
	SHA256     string
	Executable string
}

// manifestURL builds the raw manifest location for a coordinate and version.
func manifestURL(base, qualifier, name, version string) string {
	return fmt.Sprintf("%s/%s/%s/%s/manifest.edn", base, qualifier, name, version)
}

// fetchManifest downloads and parses a manifest.
func fetchManifest(client *http.Client, url string) (*Manifest, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrManifestMissing, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: %s returned %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	return parseManifest(string(body))
}

// parseManifest digests the EDN manifest document.
func parseManifest(src string) (*Manifest, error) {
	codec, err := format.New(format.EDN, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := codec.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	doc, ok := parsed.(map[any]any)
	if !ok {
		return nil, fmt.Errorf("parse manifest: top level is %T, want map", parsed)
	}

	m := &Manifest{
		Name:    symbolOrString(doc[format.Keyword("pod/name")]),
		Version: symbolOrString(doc[format.Keyword("pod/version")]),
	}

	if opts, ok := doc[format.Keyword("pod/options")].(map[any]any); ok {
		m.Options = make(map[string]any, len(opts))
		for k, v := range opts {
			m.Options[symbolOrString(k)] = v
		}
	}

	arts, _ := doc[format.Keyword("pod/artifacts")].([]any)
	for _, raw := range arts {
		am, ok := raw.(map[any]any)
		if !ok {
			continue
		}
		m.Artifacts = append(m.Artifacts, Artifact{
			OSName:     symbolOrString(am[format.Keyword("os/name")]),
			Arch:       symbolOrString(am[format.Keyword("os/arch")]),
			URL:        symbolOrString(am[format.Keyword("artifact/url")]),
			SHA256:     symbolOrString(am[format.Keyword("artifact/sha256")]),
			Executable: symbolOrString(am[format.Keyword("artifact/executable")]),
		})
	}
	if len(m.Artifacts) == 0 {
		return nil, fmt.Errorf("parse manifest: no artifacts declared")
	}
	return m, nil
}

func symbolOrString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case format.Symbol:
		return string(t)
	case format.Keyword:
		return string(t)
	default:
		return ""
	}
}

// Platform is the normalized host platform used for artifact selection.
type Platform struct {
	OS   string // linux | macos | windows
	Arch string // x86_64 | aarch64
}

// HostPlatform detects the running platform.
func HostPlatform() Platform {
	p := Platform{}
	switch runtime.GOOS {
	case "darwin":
		p.OS = "macos"
	case "windows":
		p.OS = "windows"
	default:
		p.OS = "linux"
	}
	switch runtime.GOARCH {
	case "arm64":
		p.Arch = "aarch64"
	default:
		p.Arch = "x86_64"
	}
	return p
}

// Manifest os names in the wild: "Linux", "Mac OS X", "macOS", "Windows".
var osFamilies = map[string]*regexp.Regexp{
	"linux":   regexp.MustCompile(`(?i)linux`),
	"macos":   regexp.MustCompile(`(?i)mac\s*os|darwin`),
	"windows": regexp.MustCompile(`(?i)windows`),
}

func normalizeArch(arch string) string {
	switch arch {
	case "amd64", "x86_64":
		return "x86_64"
	case "aarch64", "arm64":
		return "aarch64"
	default:
		return arch
	}
}

// selectArtifact picks the first artifact matching the platform. On macOS
// aarch64 with no native build, an x86_64 build is accepted (Rosetta).
func selectArtifact(m *Manifest, p Platform) (*Artifact, error) {
	if a := matchArtifact(m, p); a != nil {
		return a, nil
	}
	if p.OS == "macos" && p.Arch == "aarch64" {
		if a := matchArtifact(m, Platform{OS: "macos", Arch: "x86_64"}); a != nil {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrPlatformUnsupported, p.OS, p.Arch)
}

func matchArtifact(m *Manifest, p Platform) *Artifact {
	family, ok := osFamilies[p.OS]
	if !ok {
		return nil
	}
	for i := range m.Artifacts {
		a := &m.Artifacts[i]
		if family.MatchString(a.OSName) && normalizeArch(a.Arch) == p.Arch {
			return a
		}
	}
	return nil
}
