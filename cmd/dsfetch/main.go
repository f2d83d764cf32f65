package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitAuthError        = 3
	ExitInputError       = 4
	ExitStorageError     = 5
	ExitPartialFailure   = 6
	ExitValidationFailed = 7
)

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
	case "download":
		return runDownload(cmdArgs)
	case "token":
		return runToken(cmdArgs)
	case "status":
		return runStatus(cmdArgs)
	case "clean":
		return runClean(cmdArgs)
	case "archive":
		return runArchive(cmdArgs)
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
	fmt.Fprintln(os.Stderr, `Usage: dsfetch <command> [options]

Commands:
  download  Download products by id, resuming interrupted transfers
  token     Obtain an access token and store it for later runs
  status    Show which products are complete, partial or missing
  clean     Remove part files left by failed downloads
  archive   Copy completed products to an object storage bucket

Run 'dsfetch <command> -h' for command-specific help.`)
}
