package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/tabiasoft/orodha/core"
	logsvc "github.com/tabiasoft/orodha/services/logger"
	"github.com/tabiasoft/orodha/storage/database"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(err)

	// set up DB; commands that need one check for themselves
	var db *sqlx.DB
	if conf.Database.User != "" {
		db, err = database.Open(conf)
		errAndDie(err)
		defer func() { _ = db.Close() }()
	}

	// start CLI
	cli := commandLine{
		conf:   conf,
		db:     db,
		logger: logsvc.NewStdLogger(logger, conf),
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
