package main

import "github.com/vietddude/roundkeeper/internal/cli"

func main() {
	cli.Execute()
}
