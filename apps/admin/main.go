package main

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/logger"
	"github.com/trezcool/kazi/storage/database"
	"github.com/trezcool/kazi/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	defer logger.Close()

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal("creating database", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	defer db.Close()

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		db:         db,
		usrSvc:     user.NewService(sqlxrepos.NewUserRepository(db)),
		validate:   validate,
		translator: translator,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("admin command failed", err)
		}
		logger.Close()
		os.Exit(1)
	}
}
