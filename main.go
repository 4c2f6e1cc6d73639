/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "echobot/cmd"

func main() {
	cmd.Execute()
}
