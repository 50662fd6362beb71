// Package main is the single-binary entrypoint for dataflow.
package main

import "github.com/tutu-network/dataflow/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
