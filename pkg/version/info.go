// Package version reports the build metadata of the bucketstore binary.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is reported by local builds.
	DevelopmentVersion = "dev"
)

// Set at link time:
//
//	go build -ldflags="-X github.com/nimburion/bucketstore/pkg/version.AppVersion=v1.2.3"
var (
	AppVersion = DevelopmentVersion
	GitCommit  = Unknown
	BuildTime  = Unknown
)

// Info is served by the management /version endpoint and printed by
// "bucketstore version".
type Info struct {
	Service   string `json:"service" yaml:"service"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Current returns the metadata of the running binary.
func Current(serviceName string) Info {
	return Info{
		Service:   orDefault(serviceName, Unknown),
		Version:   orDefault(AppVersion, DevelopmentVersion),
		Commit:    orDefault(GitCommit, Unknown),
		BuildTime: orDefault(BuildTime, Unknown),
		GoVersion: runtime.Version(),
	}
}

// IsRelease reports whether the binary was built with a tagged version.
func (i Info) IsRelease() bool {
	return i.Version != DevelopmentVersion && strings.HasPrefix(i.Version, "v")
}

// LogFields returns the metadata as key/value pairs for the structured logger.
func (i Info) LogFields() []any {
	return []any{
		"service", i.Service,
		"version", i.Version,
		"commit", i.Commit,
		"build_time", i.BuildTime,
		"go_version", i.GoVersion,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)", i.Service, i.Version, i.Commit, i.BuildTime, i.GoVersion)
}

func orDefault(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}
