/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "linerelay/cmd"

func main() {
	cmd.Execute()
}
