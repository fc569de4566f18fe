package main

import (
	"github.com/hoverchat/widget-engine/cmd/widgetd/cmd"
)

func main() {
	cmd.Execute()
}
