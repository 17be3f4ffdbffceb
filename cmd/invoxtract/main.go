package main

import "github.com/MeKo-Tech/invoxtract/cmd/invoxtract/cmd"

func main() {
	cmd.Execute()
}
