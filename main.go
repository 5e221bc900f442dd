package main

import "github.com/kiesman99/merc2eqr/cmd"

func main() {
	cmd.Execute()
}
