package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

func (cli *commandLine) setToken(token string) error {
	return cli.creds.SetToken(context.Background(), token)
}

func (cli *commandLine) clearTokens() error {
	return cli.creds.Clear(context.Background())
}

func (cli *commandLine) whoAmI() error {
	ctx := context.Background()
	token, err := cli.creds.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no credential stored")
	}
	prof, err := cli.api.GetProfile(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("%s <%s> roles=%v\n", prof.Name, prof.Email, prof.Roles())
	return nil
}
