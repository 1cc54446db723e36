package main

import (
	"log"

	"github.com/thiagokokada/git-resign/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("git-resign: %v", err)
	}
}
