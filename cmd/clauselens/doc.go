// Package clauselens provides the command-line interface for clauselens.
// It configures subcommands (analyze, serve, ingest, report, etc.), parses
// flags, and executes the selected command.
//
// Typical usage from a main package:
//
//	package main
//	import "github.com/clauselens/clauselens/cmd/clauselens"
//	func main() { clauselens.Execute() }
package clauselens
