// Package snapshot copies SQLite databases to object storage before
// destructive schema changes, and restores them on demand.
//
// A snapshot is a consistent copy made with VACUUM INTO, stored under
// <prefix>/<table>/<time>-<run id>.sqlite with its BLAKE3 checksum in the
// object metadata.
package snapshot

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/filestore"
	"github.com/koustreak/reshape/internal/logger"
)

const (
	contentType = "application/vnd.sqlite3"
	timeLayout  = "20060102T150405.000Z"

	metaTable    = "table"
	metaRunID    = "run_id"
	metaChecksum = "blake3"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "snapshots"

// Snapshot describes one stored copy.
type Snapshot struct {
	Key      string    `json:"key"`
	Table    string    `json:"table"`
	RunID    string    `json:"run_id"`
	Size     int64     `json:"size"`
	Checksum string    `json:"blake3"`
	TakenAt  time.Time `json:"taken_at"`
}

// Snapshotter takes, lists, restores and prunes snapshots in a Store.
type Snapshotter struct {
	store  filestore.Store
	prefix string
	log    *logger.Logger
	now    func() time.Time
}

func New(store filestore.Store, prefix string, log *logger.Logger) *Snapshotter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Snapshotter{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Snapshotter) tablePrefix(table string) string {
	return path.Join(s.prefix, table) + "/"
}

// Take copies the database behind db and uploads it, tagged with table.
// db must be a SQLite connection with no open transaction.
func (s *Snapshotter) Take(ctx context.Context, db database.DB, table string) (*Snapshot, error) {
	if db.Driver() != database.DriverSQLite {
		return nil, errs.Newf(errs.ErrKindPrecondition, "snapshots need a sqlite database, not %s", db.Driver())
	}

	dir, err := os.MkdirTemp("", "reshape-snapshot-*")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "create snapshot directory", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "copy.sqlite")
	if _, err := db.Exec(ctx, "VACUUM INTO ?", file); err != nil {
		return nil, errs.Annotate(err, "copy database")
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "open snapshot copy", err)
	}
	defer f.Close()

	h := blake3.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "hash snapshot copy", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "rewind snapshot copy", err)
	}

	snap := &Snapshot{
		Table:    table,
		RunID:    uuid.New().String(),
		Size:     size,
		Checksum: hex.EncodeToString(h.Sum(nil)),
		TakenAt:  s.now(),
	}
	snap.Key = s.tablePrefix(table) + snap.TakenAt.Format(timeLayout) + "-" + snap.RunID + ".sqlite"

	if _, err := s.store.PutObject(ctx, snap.Key, f, size, filestore.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			metaTable:    table,
			metaRunID:    snap.RunID,
			metaChecksum: snap.Checksum,
		},
	}); err != nil {
		return nil, errs.Annotate(err, "upload snapshot")
	}

	s.log.InfoWith("snapshot taken", map[string]interface{}{
		"table": table,
		"key":   snap.Key,
		"size":  size,
	})
	return snap, nil
}

// List returns the snapshots of table, oldest first.
func (s *Snapshotter) List(ctx context.Context, table string) ([]Snapshot, error) {
	objects, err := s.store.ListObjects(ctx, s.tablePrefix(table))
	if err != nil {
		return nil, errs.Annotate(err, "list snapshots of "+table)
	}
	snaps := make([]Snapshot, 0, len(objects))
	for _, o := range objects {
		snaps = append(snaps, fromObject(o))
	}
	return snaps, nil
}

func fromObject(o filestore.ObjectInfo) Snapshot {
	return Snapshot{
		Key:      o.Key,
		Table:    o.Metadata[metaTable],
		RunID:    o.Metadata[metaRunID],
		Size:     o.Size,
		Checksum: o.Metadata[metaChecksum],
		TakenAt:  o.LastModified,
	}
}

// Restore downloads the snapshot at key to dest, which must not exist.
// The checksum is verified before dest appears.
func (s *Snapshotter) Restore(ctx context.Context, key, dest string) (*Snapshot, error) {
	if _, err := os.Stat(dest); err == nil {
		return nil, errs.Newf(errs.ErrKindPrecondition, "restore target %s already exists", dest)
	}

	obj, err := s.store.GetObject(ctx, key)
	if err != nil {
		return nil, errs.Annotate(err, "fetch snapshot "+key)
	}
	defer obj.Close()
	snap := fromObject(*obj.Info())

	partial := dest + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "create restore target", err)
	}
	h := blake3.New()
	_, err = io.Copy(io.MultiWriter(f, h), obj)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(partial)
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "download snapshot "+key, err)
	}

	if sum := hex.EncodeToString(h.Sum(nil)); snap.Checksum != "" && sum != snap.Checksum {
		os.Remove(partial)
		return nil, errs.Newf(errs.ErrKindConflict, "snapshot %s checksum mismatch: stored %s, got %s", key, snap.Checksum, sum)
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return nil, errs.Wrap(errs.ErrKindUnknown, "move restored snapshot", err)
	}

	s.log.InfoWith("snapshot restored", map[string]interface{}{"key": key, "dest": dest})
	return &snap, nil
}

// Prune removes all but the newest keep snapshots of table and reports
// how many were removed. keep <= 0 keeps everything.
func (s *Snapshotter) Prune(ctx context.Context, table string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	snaps, err := s.List(ctx, table)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := 0; i < len(snaps)-keep; i++ {
		if err := s.store.RemoveObject(ctx, snaps[i].Key); err != nil {
			return removed, errs.Annotate(err, "prune snapshot "+snaps[i].Key)
		}
		removed++
	}
	return removed, nil
}
