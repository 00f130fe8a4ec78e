package main

import "github.com/deepnoodle-ai/reflow/cmd/reflow/cmd"

func main() {
	cmd.Execute()
}
