// trustgate: trust-scored policy gate for agent tool calls.
package main

import "github.com/ppiankov/trustgate/internal/cli"

func main() {
	cli.Execute()
}
