package main

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/storage/database/sqlx"
	"github.com/trezcool/kazi/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	// set up DB & repos
	db := testutil.PrepareDB(t)
	usrRepo = sqlxrepos.NewUserRepository(db)

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// start CLI
	return &commandLine{
		db:         db,
		usrSvc:     user.NewService(usrRepo),
		validate:   validate,
		translator: translator,
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.wantErrStr)
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	runMigrationsFunc = func(db *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_createUser(t *testing.T) {
	cli := setup(t)
	testutil.CreateUser(t, usrRepo, "Ana", "Diaz", "ana@test.cd", "11111111A", user.RoleStudent)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"createuser"}, wantErr: errHelp},
		{
			name:    "no password",
			args:    []string{"createuser", "-national-id", "12345678Z", "-email", "teo@test.cd", "-first-name", "Teo"},
			wantErr: errHelp,
		},
		{
			name:       "bad national ID",
			args:       []string{"createuser", "-national-id", "1234", "-email", "teo@test.cd", "-first-name", "Teo"},
			pwd:        testutil.Password,
			wantErrStr: "national_id: national ID must be 8 digits followed by a letter",
		},
		{
			name:       "duplicate email",
			args:       []string{"createuser", "-national-id", "12345678Z", "-email", "ana@test.cd", "-first-name", "Teo"},
			pwd:        testutil.Password,
			wantErrStr: "email: " + user.ErrEmailExists.Error(),
		},
		{
			name:       "bad role",
			args:       []string{"createuser", "-national-id", "12345678Z", "-email", "teo@test.cd", "-first-name", "Teo", "-role", "admin"},
			pwd:        testutil.Password,
			wantErrStr: "role: invalid role",
		},
		{
			name: "created",
			args: []string{"createuser", "-national-id", "12345678z", "-email", "teo@test.cd", "-first-name", "Teo", "-last-name", "Ruiz", "-role", "teacher"},
			pwd:  testutil.Password,
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		mockPassword(tt.pwd)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}

	usr, err := cli.usrSvc.GetByNationalID(context.Background(), "12345678Z")
	require.NoError(t, err)
	assert.Equal(t, user.RoleTeacher, usr.Role)
	assert.Equal(t, "Teo Ruiz", usr.FullName())
	assert.NoError(t, usr.CheckPassword(testutil.Password))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)
	usr := testutil.CreateUser(t, usrRepo, "Ana", "Diaz", "ana@test.cd", "11111111A", user.RoleStudent)

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "national ID but no password", args: []string{"resetpassword", "-national-id", "11111111A"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-national-id", "99999999Z"}, pwd: "Zx9#Kp!Qw7", wantErr: user.ErrNotFound},
		{name: "weak password", args: []string{"resetpassword", "-national-id", "11111111A"}, pwd: "1234", wantErrStr: "password:"},
		{name: "reset with national ID", args: []string{"resetpassword", "-national-id", "11111111a"}, pwd: "Zx9#Kp!Qw7"},
		{name: "reset with email", args: []string{"resetpassword", "-national-id", "ana@test.cd"}, pwd: "Kp!Qw7Zx9#"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		mockPassword(tt.pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			checkErr(t, tt, err)
			if err != nil {
				return
			}
			refreshed, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword(tt.pwd))
		})
	}
}
