package main

import "github.com/lorawan-server/lorawan-join-server/cmd/join-server/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
