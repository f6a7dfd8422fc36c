package main

import "github.com/agentic-research/mediatree/cmd"

func main() {
	cmd.Execute()
}
