// fixrelayctl is the CLI control client for the fixrelay daemon.
package main

import "github.com/arcfix/fixrelay/cmd/fixrelayctl/commands"

func main() {
	commands.Execute()
}
