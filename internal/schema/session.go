package schema

import (
	"context"
	"strings"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/logger"
)

// Session holds the transaction state of one migrator. Statements issued
// through Conn go to the open transaction if there is one, else to the
// database, and are logged at debug level.
//
// A Session is not safe for concurrent use.
type Session struct {
	db    database.DB
	tx    database.Tx
	cache Cache
	log   *logger.Logger
}

// NewSession returns a Session on db. Rollback purges cache.
func NewSession(db database.DB, cache Cache, log *logger.Logger) *Session {
	if cache == nil {
		cache = NopCache{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Session{db: db, cache: cache, log: log}
}

func (s *Session) Conn() database.Execer { return sessionConn{s} }

func (s *Session) InTransaction() bool { return s.tx != nil }

func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errs.New(errs.ErrKindPrecondition, "transaction already open")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	s.tx = tx
	s.log.Debug("transaction started")
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errs.New(errs.ErrKindPrecondition, "no open transaction")
	}
	err := s.tx.Commit(ctx)
	s.tx = nil
	if err != nil {
		PurgeAll(s.cache)
		return err
	}
	s.log.Debug("transaction committed")
	return nil
}

// Rollback aborts the open transaction and empties the metadata cache,
// since any structure read inside the transaction may be gone.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return errs.New(errs.ErrKindPrecondition, "no open transaction")
	}
	err := s.tx.Rollback(ctx)
	s.tx = nil
	PurgeAll(s.cache)
	s.log.Debug("transaction rolled back")
	return err
}

// InTx runs fn inside the open transaction, or inside a new one that is
// committed when fn succeeds and rolled back when it fails.
func (s *Session) InTx(ctx context.Context, fn func() error) (err error) {
	if s.tx != nil {
		return fn()
	}
	if err := s.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := s.Rollback(ctx); rbErr != nil {
				s.log.ErrorWith("rollback failed", rbErr, nil)
			}
			return
		}
		err = s.Commit(ctx)
	}()
	return fn()
}

type sessionConn struct {
	s *Session
}

func (c sessionConn) current() database.Execer {
	if c.s.tx != nil {
		return c.s.tx
	}
	return c.s.db
}

func (c sessionConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	c.trace(sql, args)
	return c.current().Exec(ctx, sql, args...)
}

func (c sessionConn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	c.trace(sql, args)
	return c.current().Query(ctx, sql, args...)
}

func (c sessionConn) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	c.trace(sql, args)
	return c.current().QueryRow(ctx, sql, args...)
}

func (c sessionConn) trace(sql string, args []any) {
	c.s.log.DebugWith("sql", map[string]interface{}{
		"statement": strings.Join(strings.Fields(sql), " "),
		"args":      args,
		"in_tx":     c.s.tx != nil,
	})
}
