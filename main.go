package main

import "github.com/conneroisu/farm/cmd"

func main() {
	cmd.Execute()
}
