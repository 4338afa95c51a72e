package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

// reserved query parameters of the rows endpoint; every other parameter
// names a column to filter on by equality. is_null takes a comma
// separated column list.
var reserved = map[string]bool{"limit": true, "offset": true, "order": true, "desc": true, "is_null": true}

type rowsPage struct {
	Table  string           `json:"table"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Rows   []map[string]any `json:"rows"`
}

type fingerprintBody struct {
	Table       string `json:"table"`
	Fingerprint string `json:"fingerprint"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok", "dialect": s.m.Dialect().Name()})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables, err := s.m.Tables(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, tables)
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.describe(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, info)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	table := chi.URLParam(r, "table")
	info, err := s.describe(ctx, table)
	if err != nil {
		respondError(w, err)
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultLimit)
	if err != nil {
		respondError(w, err)
		return
	}
	if limit > s.cfg.MaxRows {
		limit = s.cfg.MaxRows
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		respondError(w, err)
		return
	}

	driver, err := database.ParseDriver(s.m.Dialect().Name())
	if err != nil {
		respondError(w, err)
		return
	}
	b := database.Select(table, database.DialectFor(driver)).Limit(limit).Offset(offset)

	for name, values := range q {
		if reserved[name] {
			continue
		}
		if _, ok := info.Lookup(name); !ok {
			respondError(w, errs.Newf(errs.ErrKindInvalidInput, "no column %q in table %q", name, table))
			return
		}
		b.Where(name, "=", values[0])
	}
	if v := q.Get("is_null"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if _, ok := info.Lookup(name); !ok {
				respondError(w, errs.Newf(errs.ErrKindInvalidInput, "no column %q in table %q", name, table))
				return
			}
			b.WhereNull(name)
		}
	}

	dir := database.Asc
	if desc, _ := strconv.ParseBool(q.Get("desc")); desc {
		dir = database.Desc
	}
	if order := q.Get("order"); order != "" {
		if _, ok := info.Lookup(order); !ok {
			respondError(w, errs.Newf(errs.ErrKindInvalidInput, "no column %q in table %q", order, table))
			return
		}
		b.OrderBy(order, dir)
	} else {
		for _, c := range info.PrimaryKey.Columns {
			b.OrderBy(c, dir)
		}
	}

	countSQL, countArgs, err := b.BuildCount()
	if err != nil {
		respondError(w, err)
		return
	}
	var total int64
	if err := s.m.Conn().QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		respondError(w, errs.Annotate(err, "count rows of "+table))
		return
	}

	sql, args, err := b.Build()
	if err != nil {
		respondError(w, err)
		return
	}
	res, err := s.m.Conn().Query(ctx, sql, args...)
	if err != nil {
		respondError(w, errs.Annotate(err, "read rows of "+table))
		return
	}
	rows, err := database.ScanRows(res)
	if err != nil {
		respondError(w, errs.Annotate(err, "read rows of "+table))
		return
	}
	respond(w, http.StatusOK, rowsPage{Table: table, Total: total, Limit: limit, Offset: offset, Rows: rows})
}

func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := chi.URLParam(r, "table")
	if _, err := s.describe(r.Context(), table); err != nil {
		respondError(w, err)
		return
	}
	fp, err := schema.Fingerprint(r.Context(), s.m, table)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, fingerprintBody{Table: table, Fingerprint: fp})
}

// describe returns the structure of table, or not_found.
func (s *Server) describe(ctx context.Context, table string) (*schema.TableInfo, error) {
	ok, err := s.m.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "no table %q", table)
	}
	return schema.Describe(ctx, s.m, table)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Newf(errs.ErrKindInvalidInput, "%q is not a non-negative integer", v)
	}
	return n, nil
}
