package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/tabiasoft/orodha/core/learner"
	sheetsvc "github.com/tabiasoft/orodha/services/spreadsheet"
	sqlxrepos "github.com/tabiasoft/orodha/storage/database/sqlx"
)

// runImport reads the source file once and prints the events a cold sync
// would emit. With -apply the changes are also persisted.
func (cli *commandLine) runImport(apply bool) error {
	if apply && cli.db == nil {
		return errors.New("import -apply requires a configured database (dbUser)")
	}

	ctx := context.Background()
	parser := sheetsvc.NewService(cli.conf, cli.logger)

	snapshot, stats, err := parser.Read(ctx, cli.conf.Source.File)
	if err != nil {
		return errors.Wrapf(err, "reading %s", cli.conf.Source.File)
	}

	events, summary := learner.NewDiffer().Diff(snapshot)
	summary.Duplicates += stats.Duplicates
	summary.Skipped += stats.Skipped

	for _, evt := range events {
		fmt.Printf("%-16s %-12s %s\n", evt.Type, evt.AdmissionNo, evt.Record.FullName)
	}
	fmt.Printf("\n%d records: %d new, %d updated, %d removed, %d duplicates, %d invalid, %d skipped\n",
		snapshot.Len(), summary.New, summary.Updated, summary.Removed,
		summary.Duplicates, summary.Invalid, summary.Skipped)

	if !apply {
		return nil
	}

	changes := make([]learner.Change, 0, len(events))
	for _, evt := range events {
		changes = append(changes, learner.Change{Type: evt.Type, Record: evt.Record})
	}
	if err := sqlxrepos.NewLearnerRepository(cli.db).ApplyChanges(ctx, changes); err != nil {
		return errors.Wrap(err, "applying changes")
	}
	fmt.Printf("applied %d changes\n", len(changes))
	return nil
}
