/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/signlearn/apiserver/cmd"

func main() {
	cmd.Execute()
}
