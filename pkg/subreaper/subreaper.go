// Package subreaper marks the calling process as the reaper of its orphaned
// descendants, so that grandchildren whose parent exits are re-parented to
// it instead of to init.
package subreaper
