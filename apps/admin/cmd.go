package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/storage/credstore"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	creds *credstore.Resolver
	api   *backend.Client
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  settoken -token TOKEN - store TOKEN as the canonical portal credential")
	fmt.Println("  cleartokens           - wipe every stored credential")
	fmt.Println("  whoami                - fetch the profile behind the stored credential")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	setTokenCmd := flag.NewFlagSet("settoken", flag.ExitOnError)
	setTokenVal := setTokenCmd.String("token", "", "The bearer token to store as the canonical credential.")

	switch args[1] {
	case "settoken":
		if err := setTokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setTokenVal == "" {
			setTokenCmd.Usage()
			return errHelp
		}
		return cli.setToken(*setTokenVal)
	case "cleartokens":
		return cli.clearTokens()
	case "whoami":
		return cli.whoAmI()
	default:
		cli.printUsage()
		return errHelp
	}
}
