// Command rlmctl is a one-shot CLI entrypoint over the iteration driver,
// layered outside the core for interactive and scripted use.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
