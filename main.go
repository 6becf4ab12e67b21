package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Partial sync failures were already reported per account.
		if errors.Is(err, errAccountsFailed) {
			os.Exit(2)
		}

		exitOnError(err)
	}
}
