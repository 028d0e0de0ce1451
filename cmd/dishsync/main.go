// Package main provides the entry point for the dishsync CLI.
package main

import "github.com/Keksclan/dishsync/internal/cli"

func main() {
	cli.Execute()
}
