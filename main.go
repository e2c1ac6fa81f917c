package main

import "github.com/nextlevelbuilder/bolt/cmd"

func main() {
	cmd.Execute()
}
