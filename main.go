package main

import clauselens "github.com/clauselens/clauselens/cmd/clauselens"

func main() {
	clauselens.Execute()
}
