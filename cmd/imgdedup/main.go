// Command imgdedup runs the content-addressed image upload service.
package main

import (
	"os"

	"github.com/Nrfhsa/Image-To-URL/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
