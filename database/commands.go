package database

import (
	"github.com/FeatheredSystems/TytoDB/predicate"
	"github.com/FeatheredSystems/TytoDB/types"
)

// Command is the closed set of structured command values the Database
// dispatches (spec §6: "commands enter as structured values", the
// statement parser that produces them is out of scope).
type Command interface {
	isCommand()
}

// CreateContainer creates a new named container with an ordered column
// schema. Spec §6: rejected if name > 60 chars, the two slices' lengths
// differ, either is empty, the count exceeds settings' max_columns, or a
// file with that name already exists.
type CreateContainer struct {
	Name        string
	ColumnNames []string
	ColumnKinds []types.Kind
}

func (CreateContainer) isCommand() {}

// CreateRow inserts one row into container, naming only a subset of
// columns; the rest default to their kind's zero value (spec §6).
type CreateRow struct {
	Container   string
	ColumnNames []string
	Values      []types.Value
}

func (CreateRow) isCommand() {}

// EditRow applies (column_name -> value) changes to every row matching
// Conditions within Container.
type EditRow struct {
	Container   string
	ColumnNames []string
	Values      []types.Value
	Conditions  []predicate.AtomSpec
	Gates       []predicate.Gate
}

func (EditRow) isCommand() {}

// DeleteRow deletes every row matching Conditions; a nil Conditions means
// every row.
type DeleteRow struct {
	Container  string
	Conditions []predicate.AtomSpec
	Gates      []predicate.Gate
}

func (DeleteRow) isCommand() {}

// DeleteContainer removes a container and its sidecars (`.hashmap`, `.mr`).
type DeleteContainer struct {
	Name string
}

func (DeleteContainer) isCommand() {}

// Search returns rows matching Conditions, projected onto ColumnNames (the
// full row if ColumnNames equals the container's full header list).
type Search struct {
	Container   string
	ColumnNames []string
	Conditions  []predicate.AtomSpec
	Gates       []predicate.Gate
	Limit       int
}

func (Search) isCommand() {}

// Commit commits one container, or every container if Container == "".
type Commit struct {
	Container string
}

func (Commit) isCommand() {}

// Rollback rolls back one container, or every container if Container == "".
type Rollback struct {
	Container string
}

func (Rollback) isCommand() {}

// Batch runs Commands in order and stops at the first failing sub-command,
// returning its error. If Transaction is true, that failure also triggers
// a rollback of every container; otherwise the sub-commands that ran
// before it keep their staged effects.
type Batch struct {
	Commands    []Command
	Transaction bool
}

func (Batch) isCommand() {}

// BatchCreateRows is sugar over repeated CreateRow: one error stops the
// batch (the rows pushed before the error remain staged).
type BatchCreateRows struct {
	Container   string
	ColumnNames []string
	Rows        [][]types.Value
}

func (BatchCreateRows) isCommand() {}

// ResponseStatus is the one-byte framing prefix (spec §6): 0x00 precedes a
// successful result, 0x01 precedes a UTF-8 failure message.
type ResponseStatus byte

const (
	StatusOK    ResponseStatus = 0x00
	StatusError ResponseStatus = 0x01
)

// Row is one result row: column name paired with its projected value, in
// request order.
type Row struct {
	Columns []string
	Values  []types.Value
}

// Response is the result of dispatching one Command.
type Response struct {
	Status  ResponseStatus
	Rows    []Row
	Message string
}
