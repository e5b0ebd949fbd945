package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromBuildInfo(t *testing.T) {
	tests := []struct {
		name     string
		info     *debug.BuildInfo
		expected string
	}{
		{
			name:     "dependency",
			info:     &debug.BuildInfo{Deps: []*debug.Module{{Path: "go.uber.org/zap", Version: "v1.27.1"}, {Path: modulePath, Version: "v0.3.0"}}},
			expected: "v0.3.0",
		},
		{
			name: "replaced dependency",
			info: &debug.BuildInfo{Deps: []*debug.Module{{
				Path: modulePath, Version: "v0.3.0",
				Replace: &debug.Module{Path: "example.com/fork", Version: "v0.0.0-20220818123113-1948909ec0b1"},
			}}},
			expected: "v0.0.0-20220818123113-1948909ec0b1",
		},
		{
			name:     "main module",
			info:     &debug.BuildInfo{Main: debug.Module{Path: modulePath, Version: "v1.0.0"}},
			expected: "v1.0.0",
		},
		{
			name:     "devel",
			info:     &debug.BuildInfo{Main: debug.Module{Path: modulePath, Version: "(devel)"}},
			expected: Default,
		},
		{
			name:     "unrelated",
			info:     &debug.BuildInfo{Main: debug.Module{Path: "example.com/app", Version: "v1.0.0"}},
			expected: Default,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, fromBuildInfo(tc.info))
		})
	}
}

func TestGetWazeroFXVersion_override(t *testing.T) {
	defer func(old string) { version = old }(version)
	version = "v9.9.9"
	require.Equal(t, "v9.9.9", GetWazeroFXVersion())
}
