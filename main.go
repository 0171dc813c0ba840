package main

import "github.com/jaredpalmer/pytrace/cmd"

func main() {
	cmd.Execute()
}
