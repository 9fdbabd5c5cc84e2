package main

import "offerwatch/internal/cli"

func main() {
	cli.Execute()
}
