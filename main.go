// The main package for the spinbot executable.
package main

import (
	"github.com/JakeFAU/spinbot/cmd"
)

func main() {
	cmd.Execute()
}
