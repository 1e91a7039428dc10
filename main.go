// The main package for the digidex executable.
package main

import "github.com/digidex/digidex-crawler/cmd"

func main() {
	cmd.Execute()
}
