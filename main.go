package main

import "merchant-status-alerts/internal/cli"

func main() {
	cli.Execute()
}
