// Package version reports the version of wazerofx linked into the running binary.
package version

import (
	"runtime/debug"
	"strings"
)

// Default is returned when the binary carries no module version, e.g. when built from a working tree.
const Default = "dev"

const modulePath = "github.com/tetratelabs/wazerofx"

// version can be overridden at link time with -ldflags "-X github.com/tetratelabs/wazerofx/internal/version.version=v1.2.3".
var version = ""

// GetWazeroFXVersion returns the version of wazerofx: the linker override if set, else the version of the
// wazerofx module in the build info, else Default.
func GetWazeroFXVersion() string {
	if version != "" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Default
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) string {
	for _, dep := range info.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil && dep.Replace.Version != "" {
			return dep.Replace.Version
		}
		return dep.Version
	}
	// Built as the main module, e.g. `go install github.com/tetratelabs/wazerofx/cmd/wazerofx@v1.0.0`.
	if strings.HasPrefix(info.Main.Path, modulePath) && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Default
}
