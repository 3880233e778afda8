package main

import "github.com/pilab-dev/shadow-auth/cmd/authserver/cmd"

func main() {
	cmd.Execute()
}
