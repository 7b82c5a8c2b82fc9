package main

import "github.com/bryanchriswhite/MixedView/cmd/mixedview/commands"

func main() {
	commands.Execute()
}
