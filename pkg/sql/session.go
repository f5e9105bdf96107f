package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/CesarPetrescu/CrabSQL/internal/logger"
	"github.com/CesarPetrescu/CrabSQL/pkg/txn"
)

// Session is one client's connection state: the selected database and
// the open transaction, if any. Statements outside an explicit BEGIN
// run in single-statement autocommit transactions.
type Session struct {
	eng      *Engine
	log      *logger.Logger
	db       string
	tx       *txn.Transaction
	explicit bool
}

// NewSession creates a session against the engine.
func NewSession(eng *Engine, log *logger.Logger) *Session {
	return &Session{eng: eng, log: log.Named("session")}
}

// CurrentDB returns the selected database, empty when none.
func (s *Session) CurrentDB() string { return s.db }

// InTransaction reports whether an explicit transaction is open.
func (s *Session) InTransaction() bool { return s.explicit && s.tx != nil && s.tx.Active() }

// Execute parses and runs one statement.
func (s *Session) Execute(ctx context.Context, text string) (*Result, error) {
	stmt, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return s.ExecuteStmt(ctx, stmt)
}

// ExecuteStmt runs an already-parsed statement.
func (s *Session) ExecuteStmt(ctx context.Context, stmt Statement) (*Result, error) {
	switch st := stmt.(type) {
	case *BeginStmt:
		return s.begin()
	case *CommitStmt:
		return s.commit()
	case *RollbackStmt:
		return s.rollback()
	case *SavepointStmt:
		return s.savepoint(func(t *txn.Transaction) error { return t.Savepoint(st.Name) }, "savepoint created")
	case *RollbackToSavepointStmt:
		return s.savepoint(func(t *txn.Transaction) error { return t.RollbackToSavepoint(st.Name) }, "rolled back to savepoint")
	case *ReleaseSavepointStmt:
		return s.savepoint(func(t *txn.Transaction) error { return t.ReleaseSavepoint(st.Name) }, "savepoint released")

	case *UseStmt:
		ok, err := s.eng.cat.HasDatabase(st.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("database %s does not exist", st.Name)
		}
		s.db = st.Name
		return okResult(0, "database changed"), nil
	case *ShowStmt:
		return s.eng.Show(s.db, st)
	case *CreateDatabaseStmt:
		return s.eng.CreateDatabase(st.Name)
	case *DropDatabaseStmt:
		res, err := s.eng.DropDatabase(st.Name)
		if err == nil && s.db == st.Name {
			s.db = ""
		}
		return res, err
	case *CreateTableStmt:
		return s.eng.CreateTable(s.db, st)
	case *DropTableStmt:
		return s.eng.DropTable(s.db, st)
	case *CreateIndexStmt:
		return s.eng.CreateIndex(s.db, st)
	case *DropIndexStmt:
		return s.eng.DropIndex(s.db, st)

	case *InsertStmt:
		return s.runDML(ctx, func(tx *txn.Transaction) (*Result, error) {
			return s.eng.Insert(ctx, tx, s.db, st)
		})
	case *UpdateStmt:
		return s.runDML(ctx, func(tx *txn.Transaction) (*Result, error) {
			return s.eng.Update(ctx, tx, s.db, st)
		})
	case *DeleteStmt:
		return s.runDML(ctx, func(tx *txn.Transaction) (*Result, error) {
			return s.eng.Delete(ctx, tx, s.db, st)
		})
	case *SelectStmt:
		return s.runDML(ctx, func(tx *txn.Transaction) (*Result, error) {
			return s.eng.Select(tx, s.db, st)
		})
	default:
		return nil, parseErr("unsupported statement")
	}
}

// begin opens an explicit transaction. An already-open transaction is
// committed first.
func (s *Session) begin() (*Result, error) {
	if s.InTransaction() {
		if err := s.eng.Commit(s.tx); err != nil {
			s.tx = nil
			s.explicit = false
			return nil, err
		}
	}
	s.tx = s.eng.Begin()
	s.explicit = true
	return okResult(0, "transaction started"), nil
}

func (s *Session) commit() (*Result, error) {
	if !s.InTransaction() {
		return nil, txn.ErrNotActive
	}
	err := s.eng.Commit(s.tx)
	s.tx = nil
	s.explicit = false
	if err != nil {
		return nil, err
	}
	return okResult(0, "committed"), nil
}

func (s *Session) rollback() (*Result, error) {
	if !s.InTransaction() {
		return nil, txn.ErrNotActive
	}
	err := s.eng.Rollback(s.tx)
	s.tx = nil
	s.explicit = false
	if err != nil {
		return nil, err
	}
	return okResult(0, "rolled back"), nil
}

func (s *Session) savepoint(op func(*txn.Transaction) error, msg string) (*Result, error) {
	if !s.InTransaction() {
		return nil, fmt.Errorf("savepoints require an open transaction")
	}
	if err := op(s.tx); err != nil {
		return nil, err
	}
	return okResult(0, msg), nil
}

// runDML executes a data statement inside the open transaction, or in
// a one-shot autocommit transaction. A failed statement discards only
// its own buffered writes; an explicit transaction stays open and
// usable.
func (s *Session) runDML(ctx context.Context, fn func(*txn.Transaction) (*Result, error)) (*Result, error) {
	if s.InTransaction() {
		snap := s.tx.SnapshotWrites()
		res, err := fn(s.tx)
		if err != nil {
			s.tx.DiscardWrites(snap)
			return nil, errors.Join(ErrExecutionAborted, err)
		}
		return res, nil
	}
	tx := s.eng.Begin()
	res, err := fn(tx)
	if err != nil {
		_ = s.eng.Rollback(tx)
		return nil, err
	}
	if err := s.eng.Commit(tx); err != nil {
		return nil, err
	}
	return res, nil
}

// Close rolls back any open transaction, for connection teardown.
func (s *Session) Close() {
	if s.tx != nil && s.tx.Active() {
		_ = s.eng.Rollback(s.tx)
	}
	s.tx = nil
	s.explicit = false
}
