package main

import "github.com/edgeflare/tablerest/cmd/tablerest"

func main() {
	tablerest.Main()
}
