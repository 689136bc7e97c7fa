package main

import "omnichat/internal/commands"

func main() {
	commands.Execute()
}
