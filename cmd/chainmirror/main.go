package main

import "github.com/audiomesh/chainmirror/internal/cli"

func main() {
	cli.Execute()
}
