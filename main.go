package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/cli"

	_ "golang.org/x/crypto/x509roots/fallback" // TLS roots for scratch containers
)

func main() {
	cli.LoadEnv()
	if err := cli.RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
