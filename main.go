package main

import "relay/cmd"

func main() {
	cmd.Execute()
}
