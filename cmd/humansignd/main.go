// humansignd runs the humansign capture and verification API.
package main

import (
	"fmt"
	"os"

	"humansign/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.NewServeCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
