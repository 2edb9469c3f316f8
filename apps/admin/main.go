package main

import (
	"log"
	"os"

	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/services/logger"
	"github.com/athenalms/portal/storage/credstore"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	// set up credential storage
	var store credstore.Store
	var err error
	switch conf.CredStore.Backend {
	case "redis":
		store, err = credstore.NewRedisStore(conf)
		errAndDie(err)
	case "postgres":
		store, err = credstore.NewSQLStore(conf)
		errAndDie(err)
	default:
		store = credstore.NewMemoryStore()
	}
	creds := credstore.NewResolver(store)

	// start CLI
	cli := commandLine{
		creds: creds,
		api:   backend.NewClient(conf, creds, logsvc.NewConsoleLogger(logger)),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
