package main

import "github.com/audiolibrelab/cliptalk/cmd"

func main() {
	cmd.Execute()
}
