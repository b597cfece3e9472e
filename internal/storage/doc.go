// Package storage persists the index of closed matches.
//
// The per-frame logs live on disk under the log writer's match directories;
// this package only records one row per closed match (id, start/end time,
// participants) so the history API can list past sessions cheaply.
package storage
