package main

import "spectra/cmd"

func main() {
	cmd.Execute()
}
