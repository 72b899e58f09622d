package main

import "steadyvu/cmd"

func main() {
	cmd.Execute()
}
