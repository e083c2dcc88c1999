package main

import "github.com/oss-eval/contribrank/cmd"

func main() {
	cmd.Execute()
}
