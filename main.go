// The main package for the supacrawl executable.
package main

import "github.com/JakeFAU/supacrawl/cmd"

func main() {
	cmd.Execute()
}
