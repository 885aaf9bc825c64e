// Package database implements the directory manager (spec §2/§6): loads
// and saves the container registry and settings, parses typed commands
// into engine calls, and fans commit/rollback across every open container.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/FeatheredSystems/TytoDB/container"
	"github.com/FeatheredSystems/TytoDB/logger"
	"github.com/FeatheredSystems/TytoDB/predicate"
	"github.com/FeatheredSystems/TytoDB/search"
	"github.com/FeatheredSystems/TytoDB/tytoerr"
	"github.com/FeatheredSystems/TytoDB/types"
)

const maxContainerNameLen = 60

// Database is the directory-level manager owning every open container
// beneath one root directory (spec §6's layout).
type Database struct {
	mu           sync.Mutex
	location     string
	settings     *Settings
	names        []string
	containers   map[string]*container.Container
	walIntegrityKey []byte
}

// Open loads (or bootstraps) the database rooted at location: settings.yaml,
// containers.yaml, the shared secret, and every named container's row
// file, index, and WAL.
func Open(location string) (*Database, error) {
	if err := os.MkdirAll(location, 0o755); err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "database.Open", err)
	}
	settings, err := loadSettings(location)
	if err != nil {
		return nil, err
	}
	names, err := loadContainerNames(location)
	if err != nil {
		return nil, err
	}
	secret, err := loadOrCreateSecret(location)
	if err != nil {
		return nil, err
	}
	key, err := deriveWALIntegrityKey(secret)
	if err != nil {
		return nil, err
	}

	db := &Database{
		location:        location,
		settings:        settings,
		names:           names,
		containers:      make(map[string]*container.Container, len(names)),
		walIntegrityKey: key,
	}
	for _, name := range names {
		if err := db.openContainer(name); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (db *Database) openContainer(name string) error {
	path := filepath.Join(db.location, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.openContainer", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return tytoerr.Wrap(tytoerr.Io, "database.openContainer", err)
	}
	if info.Size() == 0 {
		f.Close()
		return tytoerr.New(tytoerr.BadHeader, "database.openContainer",
			fmt.Sprintf("container %q has no header", name))
	}
	columnNames, columns, headersOffset, err := readHeader(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.openContainer", err)
	}

	c, err := container.OpenSecured(path, columnNames, columns, headersOffset, db.walIntegrityKey)
	if err != nil {
		return err
	}
	db.containers[name] = c
	return nil
}

// Close closes every open container.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, c := range db.containers {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing container %q: %w", name, err)
		}
	}
	return nil
}

// CreateContainer creates a new named container with the given schema
// (spec §6's CreateContainer contract).
func (db *Database) CreateContainer(name string, columnNames []string, columns []types.Kind) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.createContainerLocked(name, columnNames, columns)
}

func (db *Database) createContainerLocked(name string, columnNames []string, columns []types.Kind) error {
	if len(name) > maxContainerNameLen {
		return tytoerr.New(tytoerr.NotFound, "database.CreateContainer",
			fmt.Sprintf("container name %q exceeds %d characters", name, maxContainerNameLen))
	}
	if len(columnNames) != len(columns) {
		return tytoerr.New(tytoerr.TypeMismatch, "database.CreateContainer",
			"column name and kind counts differ")
	}
	if len(columnNames) == 0 {
		return tytoerr.New(tytoerr.TypeMismatch, "database.CreateContainer", "a container needs at least one column")
	}
	if uint32(len(columnNames)) > db.settings.MaxColumns {
		return tytoerr.New(tytoerr.TypeMismatch, "database.CreateContainer",
			fmt.Sprintf("%d columns exceeds max_columns=%d", len(columnNames), db.settings.MaxColumns))
	}
	if _, exists := db.containers[name]; exists {
		return tytoerr.New(tytoerr.DuplicateKey, "database.CreateContainer",
			fmt.Sprintf("container %q already exists", name))
	}
	path := filepath.Join(db.location, name)
	if _, err := os.Stat(path); err == nil {
		return tytoerr.New(tytoerr.DuplicateKey, "database.CreateContainer",
			fmt.Sprintf("a file named %q already exists", name))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.CreateContainer", err)
	}
	headersOffset, err := writeHeader(f, columnNames, columns)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "database.CreateContainer", err)
	}

	c, err := container.OpenSecured(path, columnNames, columns, headersOffset, db.walIntegrityKey)
	if err != nil {
		return err
	}
	db.containers[name] = c
	db.names = append(db.names, name)
	if err := saveContainerNames(db.location, db.names); err != nil {
		return err
	}
	logger.Info("database: created container %q with %d columns", name, len(columnNames))
	return nil
}

// DeleteContainer removes a container and its `.hashmap`/`.mr` sidecars.
func (db *Database) DeleteContainer(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.containers[name]
	if !ok {
		return tytoerr.New(tytoerr.NotFound, "database.DeleteContainer", fmt.Sprintf("no such container %q", name))
	}
	if err := c.Close(); err != nil {
		return err
	}
	delete(db.containers, name)

	path := filepath.Join(db.location, name)
	for _, suffix := range []string{"", ".hashmap", ".mr"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return tytoerr.Wrap(tytoerr.Io, "database.DeleteContainer", err)
		}
	}

	remaining := make([]string, 0, len(db.names))
	for _, n := range db.names {
		if n != name {
			remaining = append(remaining, n)
		}
	}
	db.names = remaining
	return saveContainerNames(db.location, db.names)
}

func (db *Database) container(name string) (*container.Container, error) {
	c, ok := db.containers[name]
	if !ok {
		return nil, tytoerr.New(tytoerr.NotFound, "database", fmt.Sprintf("no such container %q", name))
	}
	return c, nil
}

// Container exposes one open container by name, for introspection callers
// outside the package (e.g. admin's read-only status surface).
func (db *Database) Container(name string) (*container.Container, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.container(name)
}

// Settings exposes the loaded settings.yaml, for callers that need the
// vacuum schedule list or connection defaults (e.g. cmd/tytodb's
// scheduler and listener setup).
func (db *Database) Settings() *Settings {
	return db.settings
}

// ContainerNames returns the ordered registry of open container names.
func (db *Database) ContainerNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.names))
	copy(out, db.names)
	return out
}

// CommitAll commits one container (name != "") or every container
// (name == ""), matching the Rust original's sequential-iteration
// commit()/rollback() fan-out.
func (db *Database) CommitAll(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if name != "" {
		c, err := db.container(name)
		if err != nil {
			return err
		}
		return c.Commit()
	}
	for _, n := range db.names {
		if err := db.containers[n].Commit(); err != nil {
			return err
		}
	}
	return nil
}

// RollbackAll rolls back one container (name != "") or every container
// (name == "").
func (db *Database) RollbackAll(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if name != "" {
		c, err := db.container(name)
		if err != nil {
			return err
		}
		return c.Rollback()
	}
	for _, n := range db.names {
		if err := db.containers[n].Rollback(); err != nil {
			return err
		}
	}
	return nil
}

// compilePredicate resolves (column_name, value) changes/conditions against
// a container's schema into a *predicate.Chain.
func compilePredicate(c *container.Container, conditions []predicate.AtomSpec, gates []predicate.Gate) (*predicate.Chain, error) {
	return predicate.Compile(c.ColumnNames(), c.Columns(), conditions, gates)
}

func namedChangesToRow(c *container.Container, columnNames []string, values []types.Value) ([]types.Value, error) {
	row := make([]types.Value, len(c.Columns()))
	for i, kind := range c.Columns() {
		row[i] = types.ZeroValue(kind)
	}
	nameIndex := make(map[string]int, len(c.ColumnNames()))
	for i, n := range c.ColumnNames() {
		nameIndex[n] = i
	}
	for i, name := range columnNames {
		idx, ok := nameIndex[name]
		if !ok {
			return nil, tytoerr.New(tytoerr.NotFound, "database.namedChangesToRow",
				fmt.Sprintf("unknown column %q", name))
		}
		row[idx] = values[i]
	}
	return row, nil
}

func namedChangesToChangeList(c *container.Container, columnNames []string, values []types.Value) ([]container.Change, error) {
	nameIndex := make(map[string]int, len(c.ColumnNames()))
	for i, n := range c.ColumnNames() {
		nameIndex[n] = i
	}
	changes := make([]container.Change, len(columnNames))
	for i, name := range columnNames {
		idx, ok := nameIndex[name]
		if !ok {
			return nil, tytoerr.New(tytoerr.NotFound, "database.namedChangesToChangeList",
				fmt.Sprintf("unknown column %q", name))
		}
		changes[i] = container.Change{ColumnIndex: idx, NewValue: values[i]}
	}
	return changes, nil
}

func projectRow(columnNames []string, c *container.Container, row []types.Value) Row {
	if len(columnNames) == 0 || columnNamesEqual(columnNames, c.ColumnNames()) {
		return Row{Columns: c.ColumnNames(), Values: row}
	}
	nameIndex := make(map[string]int, len(c.ColumnNames()))
	for i, n := range c.ColumnNames() {
		nameIndex[n] = i
	}
	values := make([]types.Value, len(columnNames))
	for i, name := range columnNames {
		if idx, ok := nameIndex[name]; ok {
			values[i] = row[idx]
		}
	}
	return Row{Columns: columnNames, Values: values}
}

func columnNamesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Dispatch executes one Command against the database, returning a framed
// Response (spec §6).
func (db *Database) Dispatch(cmd Command) Response {
	switch c := cmd.(type) {
	case CreateContainer:
		if err := db.CreateContainer(c.Name, c.ColumnNames, c.ColumnKinds); err != nil {
			return errorResponse(err)
		}
		return Response{Status: StatusOK}

	case CreateRow:
		return db.dispatchCreateRow(c)

	case BatchCreateRows:
		for _, values := range c.Rows {
			if err := db.dispatchCreateRow(CreateRow{Container: c.Container, ColumnNames: c.ColumnNames, Values: values}); err.Status == StatusError {
				return err
			}
		}
		return Response{Status: StatusOK}

	case EditRow:
		return db.dispatchEditRow(c)

	case DeleteRow:
		return db.dispatchDeleteRow(c)

	case DeleteContainer:
		if err := db.DeleteContainer(c.Name); err != nil {
			return errorResponse(err)
		}
		return Response{Status: StatusOK}

	case Search:
		return db.dispatchSearch(c)

	case Commit:
		if err := db.CommitAll(c.Container); err != nil {
			return errorResponse(err)
		}
		return Response{Status: StatusOK}

	case Rollback:
		if err := db.RollbackAll(c.Container); err != nil {
			return errorResponse(err)
		}
		return Response{Status: StatusOK}

	case Batch:
		return db.dispatchBatch(c)

	default:
		return errorResponse(tytoerr.New(tytoerr.TypeMismatch, "database.Dispatch", "unknown command type"))
	}
}

func (db *Database) dispatchCreateRow(c CreateRow) Response {
	db.mu.Lock()
	cont, err := db.container(c.Container)
	db.mu.Unlock()
	if err != nil {
		return errorResponse(err)
	}
	row, err := namedChangesToRow(cont, c.ColumnNames, c.Values)
	if err != nil {
		return errorResponse(err)
	}
	if err := cont.PushRow(row); err != nil {
		return errorResponse(err)
	}
	return Response{Status: StatusOK}
}

func (db *Database) dispatchEditRow(c EditRow) Response {
	db.mu.Lock()
	cont, err := db.container(c.Container)
	db.mu.Unlock()
	if err != nil {
		return errorResponse(err)
	}
	pred, err := compilePredicate(cont, c.Conditions, c.Gates)
	if err != nil {
		return errorResponse(err)
	}
	changes, err := namedChangesToChangeList(cont, c.ColumnNames, c.Values)
	if err != nil {
		return errorResponse(err)
	}
	if _, err := cont.EditRow(pred, changes); err != nil {
		return errorResponse(err)
	}
	return Response{Status: StatusOK}
}

func (db *Database) dispatchDeleteRow(c DeleteRow) Response {
	db.mu.Lock()
	cont, err := db.container(c.Container)
	db.mu.Unlock()
	if err != nil {
		return errorResponse(err)
	}
	pred, err := compilePredicate(cont, c.Conditions, c.Gates)
	if err != nil {
		return errorResponse(err)
	}
	if _, err := cont.DeleteRow(pred); err != nil {
		return errorResponse(err)
	}
	return Response{Status: StatusOK}
}

func (db *Database) dispatchSearch(c Search) Response {
	db.mu.Lock()
	cont, err := db.container(c.Container)
	db.mu.Unlock()
	if err != nil {
		return errorResponse(err)
	}
	pred, err := compilePredicate(cont, c.Conditions, c.Gates)
	if err != nil {
		return errorResponse(err)
	}
	matches, err := search.Execute(cont, pred, c.Limit)
	if err != nil {
		return errorResponse(err)
	}
	rows := make([]Row, len(matches))
	for i, m := range matches {
		rows[i] = projectRow(c.ColumnNames, cont, m.Row)
	}
	return Response{Status: StatusOK, Rows: rows}
}

func (db *Database) dispatchBatch(b Batch) Response {
	for _, sub := range b.Commands {
		resp := db.Dispatch(sub)
		if resp.Status == StatusError {
			if b.Transaction {
				if rerr := db.rollbackEveryContainer(); rerr != nil {
					logger.Error("database: rollback_all after failed transaction batch: %v", rerr)
				}
			}
			return resp
		}
	}
	return Response{Status: StatusOK}
}

func (db *Database) rollbackEveryContainer() error {
	return db.RollbackAll("")
}

func errorResponse(err error) Response {
	return Response{Status: StatusError, Message: err.Error()}
}
