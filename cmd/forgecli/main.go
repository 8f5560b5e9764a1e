package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"forgecli/internal/app"
	"forgecli/internal/license"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgecli: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		if errors.Is(err, license.ErrTierNotLicensed) {
			// The engine's message already carries the purchase URL.
			fmt.Fprintf(os.Stderr, "forgecli: %v\n", err)
		} else {
			slog.Error("application failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
