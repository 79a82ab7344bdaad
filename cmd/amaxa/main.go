// Command amaxa extracts and loads related Salesforce records.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/davidmreed/amaxa-sub000/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "amaxa: unexpected error: %v\n%s", r, debug.Stack())
			code = -1
		}
	}()
	return cli.Execute(cli.NewRootCommand())
}
