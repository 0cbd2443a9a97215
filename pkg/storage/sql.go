package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/tidelock/recordseal"
)

// Verify SQLStore implements the collaborator interfaces.
var (
	_ recordseal.RecordStore = (*SQLStore)(nil)
	_ recordseal.SaltStore   = (*SQLStore)(nil)

	getSQLTimer  = metrics.GetOrRegisterTimer(fmt.Sprintf("%s.storage.sql.get", recordseal.MetricsPrefix), nil)
	putSQLTimer  = metrics.GetOrRegisterTimer(fmt.Sprintf("%s.storage.sql.put", recordseal.MetricsPrefix), nil)
	bulkSQLTimer = metrics.GetOrRegisterTimer(fmt.Sprintf("%s.storage.sql.bulkput", recordseal.MetricsPrefix), nil)
)

const (
	defaultSelectQuery = "SELECT value FROM sealed_record WHERE namespace = ? AND kind = ? AND id = ?"
	defaultInsertQuery = "INSERT INTO sealed_record (namespace, kind, id, value) VALUES (?, ?, ?, ?)"
	defaultUpdateQuery = "UPDATE sealed_record SET value = ? WHERE namespace = ? AND kind = ? AND id = ?"
	defaultDeleteQuery = "DELETE FROM sealed_record WHERE namespace = ? AND kind = ? AND id = ?"
	defaultScanQuery   = "SELECT id, value FROM sealed_record WHERE namespace = ? AND kind = ? ORDER BY id"
	defaultKindsQuery  = "SELECT DISTINCT kind FROM sealed_record WHERE namespace = ?"
)

// saltRecordKind is the reserved kind the installation salt is stored under.
const saltRecordKind = "_meta"

// SQLStoreDBType identifies a specific database/sql driver family.
type SQLStoreDBType string

const (
	Postgres SQLStoreDBType = "postgres"
	Oracle   SQLStoreDBType = "oracle"
	MySQL    SQLStoreDBType = "mysql"

	DefaultDBType = MySQL
)

var qrx = regexp.MustCompile(`\?`)

// q converts "?" placeholders to $1, $2, $n on Postgres and :1, :2, :n on
// Oracle.
func (t SQLStoreDBType) q(query string) string {
	var pref string

	switch t {
	case Postgres:
		pref = "$"
	case Oracle:
		pref = ":"
	default:
		return query
	}

	n := 0

	return qrx.ReplaceAllStringFunc(query, func(string) string {
		n++

		return pref + strconv.Itoa(n)
	})
}

// SQLStoreOption is used to configure additional options in a SQLStore.
type SQLStoreOption func(*SQLStore)

// WithSQLStoreDBType configures the SQLStore for the specified family of
// database/sql drivers, Postgres, Oracle, or MySQL (default).
func WithSQLStoreDBType(t SQLStoreDBType) SQLStoreOption {
	return func(s *SQLStore) {
		s.dbType = t
		s.selectQuery = t.q(s.selectQuery)
		s.insertQuery = t.q(s.insertQuery)
		s.updateQuery = t.q(s.updateQuery)
		s.deleteQuery = t.q(s.deleteQuery)
		s.scanQuery = t.q(s.scanQuery)
		s.kindsQuery = t.q(s.kindsQuery)
	}
}

// SQLStore is a RecordStore and SaltStore backed by an RDBMS. It expects a
// table:
//
//	CREATE TABLE sealed_record (
//	  namespace VARCHAR(128) NOT NULL,
//	  kind      VARCHAR(128) NOT NULL,
//	  id        VARCHAR(128) NOT NULL,
//	  value     BLOB         NOT NULL,
//	  PRIMARY KEY (namespace, kind, id)
//	);
type SQLStore struct {
	db        *sql.DB
	namespace string

	dbType      SQLStoreDBType
	selectQuery string
	insertQuery string
	updateQuery string
	deleteQuery string
	scanQuery   string
	kindsQuery  string
}

// NewSQLStore returns a SQLStore using the provided connection, scoped to
// namespace.
func NewSQLStore(dbHandle *sql.DB, namespace string, opts ...SQLStoreOption) *SQLStore {
	store := &SQLStore{
		db:        dbHandle,
		namespace: namespace,

		dbType:      DefaultDBType,
		selectQuery: defaultSelectQuery,
		insertQuery: defaultInsertQuery,
		updateQuery: defaultUpdateQuery,
		deleteQuery: defaultDeleteQuery,
		scanQuery:   defaultScanQuery,
		kindsQuery:  defaultKindsQuery,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Get implements recordseal.RecordStore.
func (s *SQLStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	defer getSQLTimer.UpdateSince(time.Now())

	var value []byte

	err := s.db.QueryRowContext(ctx, s.selectQuery, s.namespace, kind, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%s", kind, id)
	}

	return value, nil
}

// Put implements recordseal.RecordStore with a dialect-neutral upsert:
// update first, insert when no row matched, inside one transaction.
func (s *SQLStore) Put(ctx context.Context, kind, id string, value []byte) error {
	defer putSQLTimer.UpdateSince(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	if err := s.upsert(ctx, tx, kind, id, value); err != nil {
		_ = tx.Rollback()

		return errors.Wrapf(err, "writing %s/%s", kind, id)
	}

	return errors.Wrap(tx.Commit(), "committing write")
}

func (s *SQLStore) upsert(ctx context.Context, tx *sql.Tx, kind, id string, value []byte) error {
	res, err := tx.ExecContext(ctx, s.updateQuery, value, s.namespace, kind, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx, s.insertQuery, s.namespace, kind, id, value)

	return err
}

// Delete implements recordseal.RecordStore.
func (s *SQLStore) Delete(ctx context.Context, kind, id string) error {
	_, err := s.db.ExecContext(ctx, s.deleteQuery, s.namespace, kind, id)

	return errors.Wrapf(err, "deleting %s/%s", kind, id)
}

// ForEach implements recordseal.RecordStore.
func (s *SQLStore) ForEach(ctx context.Context, kind string, fn func(id string, value []byte) error) error {
	rows, err := s.db.QueryContext(ctx, s.scanQuery, s.namespace, kind)
	if err != nil {
		return errors.Wrapf(err, "scanning kind %s", kind)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			value []byte
		)

		if err := rows.Scan(&id, &value); err != nil {
			return errors.Wrap(err, "scanning row")
		}

		if err := fn(id, value); err != nil {
			return err
		}
	}

	return errors.Wrap(rows.Err(), "iterating rows")
}

// BulkPut implements recordseal.RecordStore. All upserts run inside a single
// transaction.
func (s *SQLStore) BulkPut(ctx context.Context, kind string, values map[string][]byte) error {
	defer bulkSQLTimer.UpdateSince(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	for id, value := range values {
		if err := s.upsert(ctx, tx, kind, id, value); err != nil {
			_ = tx.Rollback()

			return errors.Wrapf(err, "bulk writing %s/%s", kind, id)
		}
	}

	return errors.Wrap(tx.Commit(), "committing bulk write")
}

// Kinds implements recordseal.RecordStore.
func (s *SQLStore) Kinds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.kindsQuery, s.namespace)
	if err != nil {
		return nil, errors.Wrap(err, "listing kinds")
	}
	defer rows.Close()

	var kinds []string

	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, errors.Wrap(err, "scanning kind")
		}

		kinds = append(kinds, kind)
	}

	return kinds, errors.Wrap(rows.Err(), "iterating kinds")
}

// LoadSalt implements recordseal.SaltStore.
func (s *SQLStore) LoadSalt(ctx context.Context) ([]byte, error) {
	return s.Get(ctx, saltRecordKind, "salt")
}

// StoreSalt implements recordseal.SaltStore.
func (s *SQLStore) StoreSalt(ctx context.Context, salt []byte) error {
	return s.Put(ctx, saltRecordKind, "salt", salt)
}
