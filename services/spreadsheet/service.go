// Package sheetsvc turns a tabular spreadsheet file into a validated,
// deduplicated learner snapshot.
package sheetsvc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
)

// column layout of the learner register; the first row holds headers
const (
	colAdmissionNo = iota
	colFullName
	colGradeName
	colDateJoined
	colGender
	colStatus
	colCount
)

type Service struct {
	retries    int
	retryDelay time.Duration
	logger     core.Logger
}

func NewService(conf *core.Config, logger core.Logger) *Service {
	retries := conf.Source.ReadRetries
	if retries <= 0 {
		retries = 3
	}
	delay := conf.Source.ReadRetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Service{
		retries:    retries,
		retryDelay: delay,
		logger:     logger,
	}
}

// Read parses the workbook at path into a Snapshot.
//
// A file that cannot be opened at all is a read failure, retried on transient
// I/O errors with a fixed, cancelable delay before surfacing. A file that
// opens but has zero data rows is valid and yields an empty snapshot.
func (svc *Service) Read(ctx context.Context, path string) (*learner.Snapshot, learner.ReadStats, error) {
	var stats learner.ReadStats

	f, err := svc.open(ctx, path)
	if err != nil {
		return nil, stats, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return learner.NewSnapshot(), stats, nil
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, stats, errors.Wrap(err, "reading rows")
	}

	snapshot := learner.NewSnapshot()
	rowNum := 0
	for rows.Next() {
		rowNum++
		cols, err := rows.Columns()
		if err != nil {
			return nil, stats, errors.Wrapf(err, "reading row %d", rowNum)
		}
		if rowNum == 1 { // headers are never data
			continue
		}

		rec, ok := svc.buildRecord(cols, rowNum)
		if !ok {
			stats.Skipped++
			continue
		}
		if !snapshot.Add(rec) {
			// first occurrence wins; later duplicates are counted and dropped
			stats.Duplicates++
			svc.logger.Warn(fmt.Sprintf("duplicate admission number %q at row %d dropped", rec.AdmissionNo, rowNum))
			continue
		}
		stats.Valid++
	}
	if err := rows.Close(); err != nil {
		return nil, stats, errors.Wrap(err, "closing row iterator")
	}
	return snapshot, stats, nil
}

func (svc *Service) open(ctx context.Context, path string) (*excelize.File, error) {
	var lastErr error
	for attempt := 1; attempt <= svc.retries; attempt++ {
		f, err := excelize.OpenFile(path)
		if err == nil {
			return f, nil
		}
		lastErr = err
		if attempt < svc.retries {
			svc.logger.Debug(fmt.Sprintf("opening %s failed (attempt %d/%d): %v", path, attempt, svc.retries, err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(svc.retryDelay):
			}
		}
	}
	return nil, errors.Wrapf(lastErr, "opening workbook %s", path)
}

// buildRecord coerces one raw row into a Record. A row with an empty admission
// number is excluded entirely; that is not an error.
func (svc *Service) buildRecord(cols []string, rowNum int) (learner.Record, bool) {
	cell := func(i int) string {
		if i >= len(cols) {
			return ""
		}
		return coerceCell(cols[i])
	}

	admissionNo := cell(colAdmissionNo)
	if admissionNo == "" {
		return learner.Record{}, false
	}

	dateJoined, recognized := NormalizeDate(cell(colDateJoined))
	if !recognized && dateJoined != "" {
		svc.logger.Warn(fmt.Sprintf("unrecognized date %q at row %d; passing through", dateJoined, rowNum))
	}

	return learner.Record{
		AdmissionNo: admissionNo,
		FullName:    cell(colFullName),
		GradeName:   cell(colGradeName),
		DateJoined:  dateJoined,
		Gender:      cell(colGender),
		Status:      cell(colStatus),
	}, true
}

// coerceCell renders a cell value the way the register expects it:
// booleans as "true"/"false", numerics as integers when they carry no
// fractional part, everything else trimmed as-is. Formula cells arrive here
// already resolved to their cached result by the reader.
func coerceCell(raw string) string {
	value := core.CleanString(raw)
	switch value {
	case "TRUE", "True":
		return "true"
	case "FALSE", "False":
		return "false"
	}
	if num, err := strconv.ParseFloat(value, 64); err == nil && strings.ContainsAny(value, ".eE") {
		if num == float64(int64(num)) {
			return strconv.FormatInt(int64(num), 10)
		}
		return strconv.FormatFloat(num, 'f', -1, 64)
	}
	return value
}
