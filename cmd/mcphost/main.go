// mcphost manages Model Context Protocol servers as local child processes.
// It keeps a store of server definitions, runs them on demand, and exposes
// their tools over an HTTP admin API.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
