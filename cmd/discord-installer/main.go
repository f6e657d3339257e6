package main

import "github.com/oshokin/discord-installer/cmd/discord-installer/cmd"

func main() {
	cmd.Execute()
}
