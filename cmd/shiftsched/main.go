package main

import "github.com/example/shift-scheduler/cmd"

func main() {
	cmd.Execute()
}
