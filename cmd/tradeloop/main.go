package main

import "github.com/reedholm/tradeloop/cmd/tradeloop/cmd"

func main() {
	cmd.Execute()
}
