// Command regmonitor watches financial regulators for new publications and
// turns them into prioritized alerts.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stdout, stderr)
	case "once":
		return runOnce(args[2:], stdout, stderr)
	case "agencies":
		return runAgencies(args[2:], stdout, stderr)
	case "pending":
		return runPending(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "regmonitor: regulatory change monitor")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  regmonitor <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "serve", "Run a cycle now and then every UPDATE_INTERVAL_MINUTES (default)")
	printCommand(w, "once", "Run one cycle and print the report as JSON (-agency ID to limit)")
	printCommand(w, "agencies", "Print the agency registry and which collectors it enables")
	printCommand(w, "pending", "Print alerts as JSON (-status New|Analyzed|Notified, default New)")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Configuration is read from the environment and an optional .env file.")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
