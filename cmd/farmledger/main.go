// Command farmledger is an operator harness for the posting engine. It can
// replay a YAML fixture through an in-memory engine, compute idempotency
// keys and print the default chart of accounts.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
