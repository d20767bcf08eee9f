// Package cache owns the versioned storage partitions ("generations") that
// hold request → response snapshots for the offline shell. Exactly one
// generation is current at a time; Match only ever reads the current one and
// Sweep deletes every other generation in a single pass. The partition data
// itself lives behind a Backend: the default disk backend writes each entry
// as one file (temp file + rename) under StoragePath/<generation>/, the sqlite
// backend keeps everything in a single database file, and the memory backend
// serves tests and ephemeral runs.
package cache
