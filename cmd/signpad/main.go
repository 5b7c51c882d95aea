package main

import "github.com/jmcleod/signpad/cmd/signpad/cmd"

func main() {
	cmd.Execute()
}
