package main

import (
	"runtime"

	"github.com/inferloop/tabsynth/internal/server"
	"github.com/inferloop/tabsynth/pkg/constants"
)

var (
	Version   = constants.AppVersion
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func GetBuildInfo() server.BuildInfo {
	return server.BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
