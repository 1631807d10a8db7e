package main

import "github.com/finchdb/finch/cmd"

func main() {
	cmd.Execute()
}
