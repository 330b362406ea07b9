package timelinecache

import (
	"database/sql"
	"encoding/binary"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Snapshot is the cached Timeline Builder output for one track.
type Snapshot struct {
	SampleCount    uint32
	FramerateNum   uint32
	FramerateDen   uint32
	OrderMap       []uint32 // nil when identity
	KeyframeBitmap []byte
	Generation     uuid.UUID
}

// Cache stores and retrieves Snapshot values from SQLite.
type Cache struct {
	db *sql.DB
}

// Get retrieves the cached snapshot for a file identified by path,
// size, and modification time, scoped to trackID. Returns false on any
// miss, including a row whose generation token fails to parse.
func (c *Cache) Get(path string, size int64, modTime int64, trackID uint32) (Snapshot, bool) {
	var snap Snapshot
	var orderMapBlob, bitmap []byte
	var gen string

	err := c.db.QueryRow(
		`SELECT generation, sample_count, framerate_num, framerate_den, order_map, keyframe_bitmap
		 FROM timeline WHERE path = ? AND size = ? AND mod_time = ? AND track_id = ?`,
		path, size, modTime, trackID,
	).Scan(&gen, &snap.SampleCount, &snap.FramerateNum, &snap.FramerateDen, &orderMapBlob, &bitmap)
	if err != nil {
		return Snapshot{}, false
	}

	g, err := uuid.Parse(gen)
	if err != nil {
		return Snapshot{}, false
	}

	snap.Generation = g
	snap.KeyframeBitmap = bitmap
	if len(orderMapBlob) > 0 {
		snap.OrderMap = decodeUint32s(orderMapBlob)
	}
	return snap, true
}

// Put stores a freshly-built snapshot, stamping it with a new
// generation token so a concurrent incompatible rebuild of the same
// file is detectable independent of mod_time granularity.
func (c *Cache) Put(path string, size int64, modTime int64, trackID uint32, snap Snapshot) error {
	gen := uuid.New()

	var orderMapBlob []byte
	if snap.OrderMap != nil {
		orderMapBlob = encodeUint32s(snap.OrderMap)
	}

	_, err := c.db.Exec(
		`INSERT INTO timeline (path, size, mod_time, track_id, generation, sample_count, framerate_num, framerate_den, order_map, keyframe_bitmap)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path, track_id) DO UPDATE SET
		   size = excluded.size,
		   mod_time = excluded.mod_time,
		   generation = excluded.generation,
		   sample_count = excluded.sample_count,
		   framerate_num = excluded.framerate_num,
		   framerate_den = excluded.framerate_den,
		   order_map = excluded.order_map,
		   keyframe_bitmap = excluded.keyframe_bitmap`,
		path, size, modTime, trackID, gen.String(),
		snap.SampleCount, snap.FramerateNum, snap.FramerateDen, orderMapBlob, snap.KeyframeBitmap,
	)
	return err
}

// Invalidate removes cache rows for files that no longer exist on
// disk.
func (c *Cache) Invalidate() {
	rows, err := c.db.Query(`SELECT DISTINCT path FROM timeline`)
	if err != nil {
		slog.Warn("timelinecache: invalidate query failed", "error", err)
		return
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		slog.Warn("timelinecache: rows iteration error", "error", err)
	}

	for _, path := range stale {
		if _, err := c.db.Exec(`DELETE FROM timeline WHERE path = ?`, path); err != nil {
			slog.Warn("timelinecache: delete failed", "path", path, "error", err)
		}
	}
	if len(stale) > 0 {
		slog.Info("timelinecache: invalidate", "removed", len(stale))
	}
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func encodeUint32s(v []uint32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], x)
	}
	return buf
}

func decodeUint32s(buf []byte) []uint32 {
	v := make([]uint32, len(buf)/4)
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return v
}
