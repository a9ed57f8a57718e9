package main

import "github.com/NadimPy/virtualization-implementation/cmd"

func main() {
	cmd.Execute()
}
