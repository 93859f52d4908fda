package main

import "github.com/xcofdk/xcofdk-py-sub004/cmd/xcore/cli"

func main() {
	cli.Execute()
}
