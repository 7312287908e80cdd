package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcus/objsync/pkg/remote"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("objsync")

var _ remote.Storage = (*Bolt)(nil)

// Bolt is a remote.Storage backed by a bbolt file.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	opts := *bbolt.DefaultOptions
	opts.Timeout = 5 * time.Second
	db, err := bbolt.Open(path, 0600, &opts)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) Get(key string) (any, error) {
	var v any
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var err error
		v, err = decodeMsgpack(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (b *Bolt) Set(key string, value any) error {
	data, err := encodeMsgpack(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (b *Bolt) Remove(key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (b *Bolt) Clear() error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}
	return nil
}

// Keys returns the stored keys in byte order.
func (b *Bolt) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (b *Bolt) All() (map[string]any, error) {
	out := map[string]any{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, raw []byte) error {
			v, err := decodeMsgpack(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out[string(k)] = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeMsgpack decodes into plain JSON-like values: maps keyed by string,
// []any, and int64/uint64/float64 numbers.
func decodeMsgpack(data []byte) (any, error) {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.DecodeInterface()
}
