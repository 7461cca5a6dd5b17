package main

import "metastate/cmd"

func main() {
	cmd.Execute()
}
