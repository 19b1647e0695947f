// Command connector manages the configuration and storage units of the
// entity connector.
package main

import "github.com/mesh-intelligence/connector/internal/cli"

func main() {
	cli.Execute()
}
