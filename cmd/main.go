// Package main provides the entry point for the optimization-engine CLI.
package main

func main() {
	Execute()
}
