// Package main provides the interp-admin CLI tool for managing the relay.
package main

import (
	"os"

	"github.com/sirosfoundation/go-interpreter-relay/cmd/interp-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
