package main

import "github.com/nextlevelbuilder/herdctl/cmd"

func main() {
	cmd.Execute()
}
