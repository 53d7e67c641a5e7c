package main

import "github.com/atomic-update/au/internal/cli"

func main() {
	cli.Execute()
}
