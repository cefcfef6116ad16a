package main

import (
	"errors"

	"github.com/trezcool/goose"

	appfs "github.com/tabiasoft/orodha/fs"
)

var gooseRunFunc = goose.RunFS // mockable

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errors.New("migrate requires a configured database (dbUser)")
	}
	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	return gooseRunFunc(command, cli.db.DB, appfs.FS, "migrations", args...)
}
