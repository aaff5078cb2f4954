package dig_container

import (
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/kazi/apps/api/echo"
	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/coursework"
	"github.com/trezcool/kazi/core/user"
	emailsvc "github.com/trezcool/kazi/services/email"
	logsvc "github.com/trezcool/kazi/services/logger"
	"github.com/trezcool/kazi/storage/database"
	sqlxrepos "github.com/trezcool/kazi/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type ServerParam struct {
	dig.In
	Conf          *core.Config
	Logger        core.Logger
	UserSvc       user.ServiceInterface
	CourseworkSvc coursework.ServiceInterface
	Validate      *validator.Validate
	Translator    ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB, core.DBExecutor) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate
}

func newServer(p ServerParam) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		UserSvc:       p.UserSvc,
		CourseworkSvc: p.CourseworkSvc,
		Validate:      p.Validate,
		Translator:    p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewCourseworkRepository, dig.As(new(coursework.Repository))))
	must(c.Provide(newValidator))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService, dig.As(new(user.ServiceInterface))))
	must(c.Provide(coursework.NewService, dig.As(new(coursework.ServiceInterface))))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
