package main

import (
	"context"
	"os"

	"github.com/agbru/fibpipe/internal/app"
)

func main() {
	if app.HasVersionFlag(os.Args[1:]) {
		app.PrintVersion(os.Stdout, "fibinterface")
		return
	}

	application, err := app.NewInterface(os.Args, os.Stderr)
	if err != nil {
		if app.IsHelpError(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	os.Exit(application.Run(context.Background(), os.Stdout))
}
