package engine

import (
	"fmt"
	"strings"
)

// InvalidTriggerError indicates a trigger event missing required fields.
// Fatal: the run is aborted.
type InvalidTriggerError struct {
	Missing []string
}

func (e *InvalidTriggerError) Error() string {
	return fmt.Sprintf("invalid trigger event: missing %s", strings.Join(e.Missing, ", "))
}

// RecordNotFoundError indicates the triggering record no longer exists.
// Fatal: the run is aborted.
type RecordNotFoundError struct {
	SourceTable string
	RecordID    string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record %s/%s not found", e.SourceTable, e.RecordID)
}

// UnsupportedTableError indicates the event's source table is not one of
// the tracked tables. Fatal: the run is aborted.
type UnsupportedTableError struct {
	SourceTable string
}

func (e *UnsupportedTableError) Error() string {
	return fmt.Sprintf("unsupported source table: %q", e.SourceTable)
}
