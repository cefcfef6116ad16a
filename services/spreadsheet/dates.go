package sheetsvc

import (
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tabiasoft/orodha/core"
)

const isoDateLayout = "2006-01-02"

// us-style first: the legacy registers this service replaces were kept in M/D/YYYY
var dateLayouts = []string{
	"1/2/2006",
	"2006-01-02",
	"2006/01/02",
	"2-Jan-2006",
}

// NormalizeDate converts the date representations found in the wild —
// spreadsheet serial numbers, M/D/YYYY, YYYY-MM-DD — to YYYY-MM-DD.
// Anything unrecognized is passed through unchanged with ok=false; callers
// log it and let downstream validation filter the record. A bad date is a
// data-quality problem, never a hard error.
func NormalizeDate(value string) (string, bool) {
	value = core.CleanString(value)
	if value == "" {
		return value, false
	}

	// spreadsheet serial date number
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		if serial < 1 { // day 0 and negatives are not representable dates
			return value, false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return value, false
		}
		return t.Format(isoDateLayout), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(isoDateLayout), true
		}
	}
	return value, false
}
