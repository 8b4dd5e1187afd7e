package main

import (
	"fmt"
	"os"
)

func main() {
	cl := newCLI()
	if err := cl.rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
