package main

import (
	"context"

	"github.com/trezcool/kazi/core/user"
)

func (cli *commandLine) resetPassword(dniOrEmail, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByNationalIDOrEmail(ctx, dniOrEmail)
	if err != nil {
		return err
	}
	uu := user.UpdateUser{Password: pwd}
	if err = uu.Validate(ctx, usr, cli.validate, cli.usrSvc); err != nil {
		return cli.validationMessage(err)
	}
	_, err = cli.usrSvc.ResetPassword(ctx, usr, pwd)
	return err
}
