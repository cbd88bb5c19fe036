package main

import "github.com/DragonSenseiGuy/dragon-bot/cmd"

func main() {
	cmd.Execute()
}
