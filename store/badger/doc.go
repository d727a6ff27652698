// Package badgerstore provides an embedded store.Store on BadgerDB.
//
// Jobs are msgpack values under job:<id>. A waiting index key encodes
// the admission comparator directly: inverted tier weight, then
// big-endian creation nanos, then the K-sortable job ID, so a plain
// prefix iteration visits waiting jobs in admission order. Badger
// transactions are optimistic; mutations retry on conflict.
package badgerstore
