/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/savage-app/savage/cmd"

func main() {
	cmd.Execute()
}
