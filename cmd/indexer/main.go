package main

import "token-indexer/internal/cli"

func main() {
	cli.Execute()
}
