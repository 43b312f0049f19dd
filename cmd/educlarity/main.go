// Command educlarity drives the learning gateway from the terminal.
package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
