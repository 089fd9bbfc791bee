package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestIsDevBuild(t *testing.T) {
	cases := []struct {
		name string
		info VersionInfo
		want bool
	}{
		{"release", VersionInfo{Version: "v1.4.0", GitCommit: "3f2a9c1d0b7e"}, false},
		{"dev version", VersionInfo{Version: "dev", GitCommit: "3f2a9c1d0b7e"}, true},
		{"dirty tree", VersionInfo{Version: "v1.4.0", GitCommit: "3f2a9c1d0b7e-dirty"}, true},
		{"unknown commit", VersionInfo{Version: "v1.4.0", GitCommit: "unknown"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.info.IsDevBuild(); got != tc.want {
				t.Fatalf("IsDevBuild() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVersionInfoLogsBuildFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	info := &VersionInfo{Version: "v1.4.0", GitCommit: "unknown", BuildDate: "2024-01-01T00:00:00Z", GoVersion: "go1.22.0"}
	logger.Info().Object("build", info).Msg("started")

	var entry struct {
		Build map[string]any `json:"build"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry.Build["version"] != "v1.4.0" || entry.Build["go"] != "go1.22.0" {
		t.Fatalf("unexpected build fields %v", entry.Build)
	}
	if entry.Build["dev"] != true {
		t.Fatalf("an unknown commit should be logged as a dev build, got %v", entry.Build["dev"])
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	PrintVersion(&buf)

	out := buf.String()
	if !strings.HasPrefix(out, "Lattiq Dispatch Library\n") || !strings.Contains(out, "Version: ") {
		t.Fatalf("unexpected version output:\n%s", out)
	}
}
