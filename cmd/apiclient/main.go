package main

import (
	"os"

	"github.com/milan604/jsonapi-client/cmd/apiclient/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
