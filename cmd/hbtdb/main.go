// cmd/hbtdb/main.go
//
// hbtdb CLI - interactive dot-command shell over an hbtdb database file.
//
// Usage:
//
//	hbtdb [database-file]
//
// Use .help for available commands.
package main

import (
	"fmt"
	"os"

	"hbtdb/pkg/cli"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: hbtdb <database-file>")
		os.Exit(1)
	}

	repl, err := cli.NewREPL(os.Args[1], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}
