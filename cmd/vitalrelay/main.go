// Command vitalrelay runs the vital-record delivery relay: it submits queued records to the
// national API, polls for responses, reconciles them and serves the enqueue and status API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
