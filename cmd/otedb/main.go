package main

import "github.com/OpenTraceLab/OpenTraceEDB/cmd/otedb/cmd"

func main() {
	cmd.Execute()
}
