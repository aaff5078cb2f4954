package main

import (
	"context"
	"fmt"

	"github.com/trezcool/kazi/core/user"
)

// createUser registers a new user.User
func (cli *commandLine) createUser(nu user.NewUser) error {
	ctx := context.Background()
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return cli.validationMessage(err)
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (%s) created\n", usr.Role, usr.FullName(), usr.NationalID)
	return nil
}
