// The main package for the webaudit executable.
package main

import (
	"webaudit/cmd"
)

func main() {
	cmd.Execute()
}
