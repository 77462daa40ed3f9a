// Command sofia is the Contoso Pizza ordering assistant: a chat REPL
// backed by an Azure AI Foundry agent, the pizza service it calls back
// into, and the tooling to publish and maintain both.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/contoso/sofia/internal/cli"
)

func main() {
	// Load .env if present; the Foundry portal hands out the workshop
	// variables in that shape.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
