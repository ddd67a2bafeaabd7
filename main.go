package main

import "github.com/example/inkquest/internal/cli"

func main() {
	cli.Execute()
}
