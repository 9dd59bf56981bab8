// Command trackerctl validates, converts and stores entity metadata documents.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}
	if err := newApp(os.Stdout, os.Stderr).Run(context.Background(), args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
