// Package lockcache is a remote cache layer over a shared key-value store
// (Redis in production) with lock-protected population and wildcard
// invalidation.
//
// Components:
//   - Writer: byte-level put/get/putIfAbsent/remove/clean on full store keys,
//     with an optional per-cache distributed lock.
//   - registry.Registry: resolves "<name>" and "<name>#<ttlSeconds>" into a
//     cache configuration (TTL, key prefix, codec).
//   - Manager/Cache: typed views combining both, with an optional in-process
//     near cache and GetOrLoad.
//   - dispatch: routes inbound messages (e.g. InvalidationHandler) by name.
//
// Locking:
//
//	lock key:   <name>~lock
//	lock value: <worker-id>:<uuid>
//	acquire:    SET key token NX EX <LockTTL>, waiting while EXISTS key
//	release:    GET key == token ? DEL key : noop   (one server-side script)
//
// PutIfAbsent and Clean take the lock when Options.LockWait > 0. The lock
// only suppresses stampedes: a single PutIfAbsent winner is guaranteed by the
// conditional write alone.
//
// Wildcard deletes scan first and delete afterwards. They are not atomic;
// entries written during the scan may survive.
package lockcache
