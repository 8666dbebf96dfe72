// Command kadali is the command line client for a kadalid server.
package main

import "github.com/rzbill/kadali/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
