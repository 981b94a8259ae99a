package main

import (
	"alipcs/internal/cli"
)

func main() {
	cli.Execute()
}
