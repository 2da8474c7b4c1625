// Package main is the entry point of listenroom (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/junothreadborne/ListenRoom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
