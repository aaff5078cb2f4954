package main

import (
	"flag"
	"fmt"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB
	usrSvc     user.ServiceInterface
	validate   *validator.Validate
	translator ut.Translator
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  createuser -national-id DNI -email EMAIL -role ROLE -first-name NAME [-last-name NAME] - register a user")
	fmt.Println("  resetpassword -national-id DNI|EMAIL - reset user's password")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	createUserCmd := flag.NewFlagSet("createuser", flag.ContinueOnError)
	createUserDNI := createUserCmd.String("national-id", "", "The user's national ID.")
	createUserEmail := createUserCmd.String("email", "", "The user's email.")
	createUserRole := createUserCmd.String("role", user.RoleStudent, "The user's role: student or teacher.")
	createUserFirstName := createUserCmd.String("first-name", "", "The user's first name.")
	createUserLastName := createUserCmd.String("last-name", "", "The user's last name. The password will be prompted next.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordDNI := resetPasswordCmd.String("national-id", "", "The user's national ID or email. The password will be prompted next.")

	switch args[1] {
	case "createuser":
		if err := createUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *createUserDNI == "" || *createUserEmail == "" || *createUserFirstName == "" {
			createUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			createUserCmd.Usage()
			return errHelp
		}
		return cli.createUser(user.NewUser{
			FirstName:  *createUserFirstName,
			LastName:   *createUserLastName,
			Email:      *createUserEmail,
			Password:   pwd,
			NationalID: *createUserDNI,
			Role:       *createUserRole,
		})
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordDNI == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordDNI, pwd)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}

// validationMessage flattens validation errors into a single readable error.
func (cli *commandLine) validationMessage(err error) error {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		msg := "invalid data:"
		for _, fe := range vErrs {
			msg += fmt.Sprintf("\n  %s: %s", fe.Field(), fe.Translate(cli.translator))
		}
		return errors.New(msg)
	}
	var vErr *core.ValidationError
	if errors.As(err, &vErr) && len(vErr.Fields) > 0 {
		msg := "invalid data:"
		for _, fe := range vErr.Fields {
			msg += fmt.Sprintf("\n  %s: %s", fe.Field, fe.Error)
		}
		return errors.New(msg)
	}
	return err
}
