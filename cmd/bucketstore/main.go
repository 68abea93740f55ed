package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nimburion/bucketstore/pkg/cli"
)

func main() {
	cmd := cli.NewRootCommand(cli.Options{
		Name:        "bucketstore",
		Description: "Bucket and item store with a queryable REST API",
		ConfigPath:  os.Getenv("BUCKETSTORE_CONFIG_FILE"),
	})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
