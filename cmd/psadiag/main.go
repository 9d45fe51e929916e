package main

import (
	"errors"
	"os"

	"psadiag/internal/menu"
)

func main() {
	err := Execute()
	shutdown()
	if err != nil && !errors.Is(err, menu.ErrUpdateStarted) {
		os.Exit(1)
	}
}
