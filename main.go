package main

import "github.com/omnidesk-io/omnidesk/cmd"

func main() {
	cmd.Execute()
}
