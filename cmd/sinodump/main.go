package main

import "github.com/sinolink/sinodump/cmd/sinodump/cmd"

func main() {
	cmd.Execute()
}
