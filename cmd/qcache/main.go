// Command qcache inspects and reconciles cached PostgREST query results.
package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-query-cache/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
