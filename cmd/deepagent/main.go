// Command deepagent runs a task-planning agent with sub-agent delegation
// against a local SQLite session store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
