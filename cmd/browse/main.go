// Command browse is a terminal frontend for the screenshelf gateway. Pages
// are read through a persisted client cache.
package main

import (
	"os"
)

func main() {
	root, cleanup := newRootCmd()
	err := root.Execute()
	if cerr := cleanup(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}
