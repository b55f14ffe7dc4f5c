package main

import "github.com/petrouvik/shelfctl/cmd"

func main() {
	cmd.Execute()
}
