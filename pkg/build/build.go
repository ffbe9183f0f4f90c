// Package build exposes metadata stamped into the binary at compile time
// with -ldflags. Without stamping, development defaults apply.
package build

type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// Populated via -ldflags, e.g.
//
//	-X pulseviz/pkg/build.buildVersion=v1.2.0
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

// Get returns the build metadata, substituting development defaults for
// anything left unstamped.
func Get() Info {
	info := Info{
		Name:    buildName,
		Time:    buildTime,
		Commit:  buildCommit,
		Version: buildVersion,
	}
	if info.Name == "" {
		info.Name = "pulseviz"
	}
	if info.Time == "" {
		info.Time = "unknown"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}
