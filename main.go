package main

import "github.com/kozaktomas/face-retrieval/cmd"

func main() {
	cmd.Execute()
}
