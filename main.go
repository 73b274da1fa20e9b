package main

import "github.com/mutecap/mutecap/cmd"

func main() {
	cmd.Execute()
}
