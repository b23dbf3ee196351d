package link

import (
	"errors"
	"strings"
)

// Visual Studio installs carrying an amd64 link.exe, in probe order:
// VS2013, VS2015, VS2012.
type vsInstall struct {
	env       string
	wellKnown string
}

var vsInstalls = []vsInstall{
	{"VS120COMNTOOLS", `C:\Program Files (x86)\Microsoft Visual Studio 12.0\VC\bin\amd64\link.exe`},
	{"VS140COMNTOOLS", `C:\Program Files (x86)\Microsoft Visual Studio 14.0\VC\bin\amd64\link.exe`},
	{"VS110COMNTOOLS", `C:\Program Files (x86)\Microsoft Visual Studio 11.0\VC\bin\amd64\link.exe`},
}

const vsLinkSuffix = `\VC\bin\amd64\link.exe`

// ErrNoLinker means no usable linker was found on the host.
var ErrNoLinker = errors.New("cannot locate Visual Studio amd64 link.exe")

// DefaultLinker resolves the linker executable for a platform. Everywhere
// but Windows that is `ld` from PATH. On Windows the Visual Studio
// installs are probed: first through their environment variables (the
// COMNTOOLS path points two directories below the VS root), then through
// the well-known install paths, in the fixed VS2013/VS2015/VS2012 order.
// getenv and exists are injectable so the probe is testable off-Windows.
func DefaultLinker(p Platform, getenv func(string) string, exists func(string) bool) (string, error) {
	if p != Windows {
		return "ld", nil
	}
	for _, vs := range vsInstalls {
		tools := getenv(vs.env)
		if tools == "" {
			continue
		}
		path := parentDir(parentDir(tools)) + vsLinkSuffix
		if exists(path) {
			return path, nil
		}
	}
	for _, vs := range vsInstalls {
		if exists(vs.wellKnown) {
			return vs.wellKnown, nil
		}
	}
	return "", ErrNoLinker
}

// parentDir trims the last path element, accepting either separator so the
// Windows-path logic stays testable on any host.
func parentDir(path string) string {
	path = strings.TrimRight(path, `\/`)
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[:i]
	}
	return path
}
