// Package storage provides persistent implementations of remote.Storage.
//
// SQLite keeps values as JSON text in a single table and suits hosts that
// already ship a SQLite database. Bolt keeps msgpack-encoded values in a
// bbolt bucket and needs no cgo or SQL engine.
package storage
