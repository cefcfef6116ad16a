package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tabiasoft/orodha/core"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf   *core.Config
	db     *sqlx.DB
	logger core.Logger
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate [COMMAND] [args] - run schema migrations (default: up)")
	fmt.Println("  import [-apply] - run one detection pass over the source file")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importApply := importCmd.Bool("apply", false, "Persist the inferred changes instead of only printing them.")

	switch args[1] {
	case "migrate":
		return cli.migrate(args[2:])
	case "import":
		if err := importCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.runImport(*importApply)
	default:
		cli.printUsage()
		return errHelp
	}
}
