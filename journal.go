package mfspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsquery "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	base32 "github.com/whyrusleeping/base32"
)

const journalPrefix = "/mfspub/"

// PublishRecord is what the journal remembers about the last publish of a
// namespace.
type PublishRecord struct {
	Namespace string
	Key       string
	Name      string
	Value     string
	Published time.Time
}

// Journal stores the last publish record of each namespace in a datastore.
type Journal struct {
	ds ds.Datastore
}

// NewJournal constructs a journal over d.
func NewJournal(d ds.Datastore) *Journal {
	if d == nil {
		panic("nil datastore")
	}
	return &Journal{ds: d}
}

// NewMemoryJournal constructs a journal kept in memory.
func NewMemoryJournal() *Journal {
	return NewJournal(dssync.MutexWrap(ds.NewMapDatastore()))
}

// JournalDsKey returns the datastore key of a namespace.
func JournalDsKey(namespace string) ds.Key {
	return ds.NewKey(journalPrefix + base32.RawStdEncoding.EncodeToString([]byte(namespace)))
}

// Put records rec as the last publish of its namespace.
func (j *Journal) Put(ctx context.Context, rec PublishRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := JournalDsKey(rec.Namespace)
	if err := j.ds.Put(ctx, key, data); err != nil {
		return err
	}
	return j.ds.Sync(ctx, key)
}

// Get returns the last publish record of namespace. The boolean is false when
// the namespace was never published through this journal.
func (j *Journal) Get(ctx context.Context, namespace string) (PublishRecord, bool, error) {
	data, err := j.ds.Get(ctx, JournalDsKey(namespace))
	switch {
	case err == nil:
	case errors.Is(err, ds.ErrNotFound):
		return PublishRecord{}, false, nil
	default:
		return PublishRecord{}, false, err
	}

	var rec PublishRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PublishRecord{}, false, fmt.Errorf("invalid journal entry for %q: %w", namespace, err)
	}
	return rec, true, nil
}

// List returns the last publish record of every namespace in the journal.
func (j *Journal) List(ctx context.Context) (map[string]PublishRecord, error) {
	query, err := j.ds.Query(ctx, dsquery.Query{
		Prefix: journalPrefix,
	})
	if err != nil {
		return nil, err
	}
	defer query.Close()

	records := make(map[string]PublishRecord)
	for {
		select {
		case result, ok := <-query.Next():
			if !ok {
				return records, nil
			}
			if result.Error != nil {
				return nil, result.Error
			}
			if !strings.HasPrefix(result.Key, journalPrefix) {
				log.Errorf("datastore query for keys with prefix %s returned a key: %s", journalPrefix, result.Key)
				continue
			}
			var rec PublishRecord
			if err := json.Unmarshal(result.Value, &rec); err != nil {
				// Might as well return what we can.
				log.Error("found an invalid journal entry:", err)
				continue
			}
			ns, err := base32.RawStdEncoding.DecodeString(result.Key[len(journalPrefix):])
			if err != nil {
				log.Errorf("journal key invalid: %s", result.Key)
				continue
			}
			records[string(ns)] = rec
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
