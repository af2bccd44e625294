// The main package for the spidercast executable.
package main

import (
	"github.com/spidercast/spidercast/cmd"
)

func main() {
	cmd.Execute()
}
