package main

import "github.com/Linkavych/rOSac/cmd"

func main() {
	cmd.Execute()
}
