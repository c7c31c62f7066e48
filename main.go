package main

import "bwprobe/cmd"

func main() {
	cmd.Execute()
}
