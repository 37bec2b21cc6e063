// The main package for the indicator-analyzer executable.
package main

import (
	"github.com/JakeFAU/indicator-analyzer/cmd"
)

func main() {
	cmd.Execute()
}
