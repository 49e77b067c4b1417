package main

import "github.com/example/dentalsrs/cmd"

func main() {
	cmd.Execute()
}
