package lockcache

import (
	"context"

	"github.com/unkn0wn-root/lockcache/internal/util"
	"github.com/unkn0wn-root/lockcache/store"
)

// deleteMatching removes every key matching pattern in two passes: a SCAN
// that collects (and dedupes) matches, then batched DELs. The store offers
// no atomic pattern delete, so keys written after the scan pass survive.
// Lock keys are never collected.
func (w *Writer) deleteMatching(ctx context.Context, cn store.Conn, name, pattern string) (int64, error) {
	it := cn.Scan(ctx, pattern, w.scanCount)
	seen := make(map[string]struct{})
	var keys []string
	for it.Next(ctx) {
		k := it.Key()
		if util.IsLockKey(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := it.Err(); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return 0, cerr
		}
		return 0, unavailable(err)
	}

	var deleted int64
	for _, batch := range util.Chunk(keys, w.deleteBatch) {
		n, err := cn.Del(ctx, batch...)
		deleted += n
		if err != nil {
			w.stats.IncDeletes(name, deleted)
			return deleted, unavailable(err)
		}
	}

	w.stats.IncDeletes(name, deleted)
	w.hooks.WildcardDeleted(name, pattern, len(keys), deleted)
	w.log.Debug("wildcard delete", Fields{"cache": name, "pattern": pattern, "matched": len(keys), "deleted": deleted})
	return deleted, nil
}
