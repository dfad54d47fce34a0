package main

import "github.com/emiliopalmerini/abassign/internal/cli"

func main() {
	cli.Execute()
}
