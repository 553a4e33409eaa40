/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "saladict/cmd"

func main() {
	cmd.Execute()
}
