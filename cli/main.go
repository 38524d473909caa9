package main

import "github.com/john-matlock-eng/ai-lifestyle-app-sub007/cli/cmd"

func main() {
	cmd.Execute()
}
