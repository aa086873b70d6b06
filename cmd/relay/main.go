// Package main is the entry point for the Viber agent relay.
package main

func main() {
	Execute()
}
