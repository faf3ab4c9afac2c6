package main

import "github.com/credgate/credgate/internal/cli"

func main() {
	cli.Execute()
}
