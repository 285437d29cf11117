package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	app := GetApp()
	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
