/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archive exports stored snapshots as JSON documents to an
// object store, so backups survive the loss of the database itself.
package archive

import "context"

// Store abstracts the object storage backend exports are written to.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
