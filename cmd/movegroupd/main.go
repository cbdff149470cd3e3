package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(execute())
}

// execute runs the root command and prints any error to stderr, since
// the commands themselves are silenced.
func execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}
