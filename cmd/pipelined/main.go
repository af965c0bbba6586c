// Package main provides the entry point for the pipeline runtime binary.
package main

func main() {
	Execute()
}
