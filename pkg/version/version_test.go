package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	t.Parallel()

	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T15:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name string
		in   Info
		want Info
	}{
		{
			name: "defaults are filled",
			in:   Info{Version: "dev", GitCommit: "none", BuildTime: "unknown"},
			want: Info{Version: "v0.3.1", GitCommit: "0123456789ab", BuildTime: "2026-01-02T15:04:05Z", Modified: true},
		},
		{
			name: "ldflags win",
			in:   Info{Version: "1.2.3", GitCommit: "abcdefg", BuildTime: "yesterday"},
			want: Info{Version: "1.2.3", GitCommit: "abcdefg", BuildTime: "yesterday", Modified: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.in
			fillFromBuildInfo(&got, bi)
			if got != tt.want {
				t.Errorf("fillFromBuildInfo() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFillKeepsDevelVersion(t *testing.T) {
	t.Parallel()

	info := Info{Version: "dev", GitCommit: "none", BuildTime: "unknown"}
	fillFromBuildInfo(&info, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if info.Version != "dev" || info.GitCommit != "none" {
		t.Errorf("info = %+v, want defaults kept", info)
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	i := Info{Version: "1.2.3", GitCommit: "abc", BuildTime: "now", Modified: true, GoVersion: "go1.24.0", Platform: "linux/amd64"}
	want := "sourcepack version 1.2.3 (commit: abc-dirty) built at now with go1.24.0 on linux/amd64"
	if got := i.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(Get().String(), "sourcepack version ") {
		t.Errorf("Get().String() = %q", Get().String())
	}
}
