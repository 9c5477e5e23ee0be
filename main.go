package main

import "github.com/DavidFlores79/wadesk/cmd"

func main() {
	cmd.Execute()
}
