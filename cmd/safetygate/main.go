package main

import "github.com/ppiankov/safetygate/internal/cli"

func main() {
	cli.Execute()
}
