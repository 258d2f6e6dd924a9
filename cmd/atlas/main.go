// Command atlas is the CLI entrypoint. All behavior lives in
// internal/cli; this file exists only so `go build ./cmd/atlas`
// produces a binary.
package main

import (
	"os"

	cmd "github.com/atlascrawl/atlas/internal/cli"
)

func main() {
	os.Exit(cmd.Execute())
}
