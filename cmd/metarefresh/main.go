package main

import "github.com/metarefresh/metarefresh/internal/cli"

func main() {
	cli.Execute()
}
