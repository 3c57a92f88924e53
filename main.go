package main

import "github.com/frahmantamala/donation-gateway/cmd"

func main() {
	cmd.Execute()
}
