package main

import (
	"token-watch/internal/cli"
)

func main() {
	cli.Execute()
}
