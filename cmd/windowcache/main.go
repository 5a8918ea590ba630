// Package main implements the windowcache command.
package main

import (
	"fmt"
	"runtime"
)

// Version information - set at build time
var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	Execute()
}

func versionString() string {
	return fmt.Sprintf("windowcache %s (%s, %s)", Version, Commit[:min(7, len(Commit))], runtime.Version())
}
