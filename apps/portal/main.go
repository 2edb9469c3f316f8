package main

import (
	"context"
	"log"
	"os"

	"github.com/athenalms/portal/apps/portal/echo"
	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/core/credits"
	"github.com/athenalms/portal/core/event"
	"github.com/athenalms/portal/core/session"
	"github.com/athenalms/portal/services/logger"
	"github.com/athenalms/portal/storage/credstore"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stdout, "PORTAL : ", log.LstdFlags|log.Lshortfile)

	var logger core.Logger
	if conf.Debug || conf.RollbarToken == "" {
		logger = logsvc.NewConsoleLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

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

	// set up managers
	bus := event.NewBus()
	client := backend.NewClient(conf, creds, logger)
	roles := session.NewRoleStore()
	sessMgr := session.NewManager(conf, client, creds, bus, logger, roles)
	defer sessMgr.Close()
	credMgr := credits.NewManager(conf, client, logger)

	// keep the credits mirror keyed by the signed-in user id
	bus.Subscribe(event.TopicUserProfileUpdated, func(evt event.Event) {
		if id, ok := evt.Detail["user_id"].(string); ok {
			credMgr.SetUser(context.Background(), id)
		}
	})
	bus.Subscribe(event.TopicUserLoggedOut, func(event.Event) {
		credMgr.SetUser(context.Background(), "")
	})

	validate, translator := core.NewValidator()

	sessMgr.Start(context.Background())

	// start portal server
	app := echoapi.NewServer(
		&echoapi.Options{
			Addr:       conf.Server.Addr,
			Conf:       conf,
			Logger:     logger,
			Bus:        bus,
			Creds:      creds,
			SessionMgr: sessMgr,
			CreditsMgr: credMgr,
			Validate:   validate,
			Translator: translator,
		},
	)
	app.Start()
}

func errAndDie(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
