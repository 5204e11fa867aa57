// crankhost is the engine-position decoding host: it feeds crank and
// cam signal edges from a simulator, a capture file or live hardware
// into the tooth/gap decoder and serves the decoded state.
package main

import (
	"os"

	"engine-position-go/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
