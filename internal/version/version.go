package version

import (
	"fmt"
	"io"
)

var Version = "dev"

func Print(w io.Writer, binaryName string) {
	if w == nil {
		w = io.Discard
	}
	fmt.Fprintf(w, "%s %s\n", binaryName, Version)
}
