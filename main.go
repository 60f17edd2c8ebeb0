// The main package for the siteaudit executable.
package main

import (
	"github.com/sitescope/siteaudit/cmd"
)

func main() {
	cmd.Execute()
}
