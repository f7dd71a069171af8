package main

import (
	"log"
	"os"

	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
	"github.com/darasahq/darasa/services/logger"
	"github.com/darasahq/darasa/storage/database"
	"github.com/darasahq/darasa/storage/database/sqlx"

	"github.com/darasahq/darasa/core"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	// set up DB
	db, err := database.Open(core.Conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()

	principalRepo := sqlxrepos.NewPrincipalRepository(db)
	instRepo := sqlxrepos.NewInstituteRepository(db)
	instSvc := institute.NewService(instRepo, logsvc.NewStdLogger(logger))

	// start CLI
	cli := commandLine{
		db:            db,
		principalRepo: principalRepo,
		reconciler:    principal.NewReconciler(principalRepo, instSvc, logsvc.NewStdLogger(logger)),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
