// Command nssync maps directory users and groups to extrausers NSS files.
package main

import (
	"os"

	"github.com/hnrobert/nssync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
