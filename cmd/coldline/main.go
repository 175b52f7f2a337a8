// Command coldline archives aged records from a hot store to a cold store
// and serves reads across both tiers.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/coldline/internal/cli"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "coldline:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
