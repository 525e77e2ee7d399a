package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
)

// exportHeader fixes the column order of delimited exports.
var exportHeader = []string{
	"id", "timestamp", "user_id", "user_name", "user_email", "user_level",
	"action", "resource", "resource_id", "details", "requires_review",
}

// ToDelimitedText renders entries as RFC 4180 delimited text. Embedded
// delimiters and quotes are escaped so that re-parsing with the same
// delimiter reproduces every field value exactly.
func ToDelimitedText(entries []Entry, delimiter rune) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if delimiter != 0 {
		w.Comma = delimiter
	}
	if err := w.Write(exportHeader); err != nil {
		return "", err
	}
	for _, e := range entries {
		details := ""
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return "", err
			}
			details = string(b)
		}
		rec := []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp,
			e.UserID,
			e.UserName,
			e.UserEmail,
			strconv.Itoa(int(e.UserLevel)),
			string(e.Action),
			e.Resource,
			e.ResourceID,
			details,
			strconv.FormatBool(e.RequiresReview),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
