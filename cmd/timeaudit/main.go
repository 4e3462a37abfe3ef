// Command timeaudit logs activities locally and delivers them to the
// remote activities store.
package main

import (
	"fmt"
	"os"

	"github.com/kimhsiao/timeaudit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
