// Command catsync keeps a local, curatable copy of an upstream catalog.
package main

import (
	"context"
	"os"

	"github.com/roach88/catsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
