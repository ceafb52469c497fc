package main

import (
	"fmt"
	"os"

	"rag-apps/cmd/commands"
	"rag-apps/internal/apperr"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, apperr.UserMessage(err))
		os.Exit(1)
	}
}
