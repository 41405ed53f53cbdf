package main

import "github.com/shaharia-lab/dealnotify/cmd"

func main() {
	cmd.Execute()
}
