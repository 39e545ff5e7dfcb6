package main

import "github.com/Romeobluesky/recapvoice-server-sub000/cmd"

func main() {
	cmd.Execute()
}
