package main

import "github.com/ValentinKolb/sgkv/cmd"

func main() {
	cmd.Execute()
}
