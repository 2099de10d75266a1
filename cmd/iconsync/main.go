package main

import (
	"fmt"
	"io"
	"os"
)

// Exit codes
const (
	ExitSuccess            = 0
	ExitGeneralError       = 1
	ExitInvalidArgs        = 2
	ExitCatalogUnreachable = 3
	ExitStorageError       = 5
	ExitVerifyFailed       = 7
	ExitUnresolved         = 8
)

// stdout receives command results; diagnostics go to stderr.
var stdout io.Writer = os.Stdout

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "list":
		return runList(cmdArgs)
	case "verify":
		return runVerify(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: iconsync <command> [options]

Commands:
  fetch   Download every icon in the catalog to a directory or bucket
  list    Print the icon catalog
  verify  Report catalog icons missing from the output

Run 'iconsync <command> -h' for command-specific help.`)
}
