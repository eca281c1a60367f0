package main

import "github.com/smoradi/webhook-notifier/cmd"

func main() {
	cmd.Execute()
}
