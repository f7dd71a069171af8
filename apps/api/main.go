package main

import (
	"log"
	"os"

	"github.com/darasahq/darasa/apps/api/echo"
	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
	"github.com/darasahq/darasa/services/email"
	"github.com/darasahq/darasa/services/logger"
	"github.com/darasahq/darasa/storage/database"
	"github.com/darasahq/darasa/storage/database/sqlx"
)

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lshortfile)

	var logger core.Logger
	if core.Conf.Debug {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, core.Conf)
	}

	// set up DB
	db, err := database.Open(core.Conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	instRepo := sqlxrepos.NewInstituteRepository(db)
	principalRepo := sqlxrepos.NewPrincipalRepository(db)

	instSvc := institute.NewService(instRepo, logger)
	principalSvc := principal.NewService(principalRepo, instSvc, mailSvc, logger)
	reconciler := principal.NewReconciler(principalRepo, instSvc, logger)

	// start API server
	app := echoapi.NewServer(
		&echoapi.Options{
			Address:      core.Conf.Server.Address(),
			PrincipalSvc: principalSvc,
			InstituteSvc: instSvc,
			Reconciler:   reconciler,
			Logger:       logger,
		},
	)
	app.Start()
}

func errAndDie(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
