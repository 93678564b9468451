package services

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements a document store on top of BoltDB. Every collection path, such as
// users/{userID}/chats, is a bucket whose keys are document IDs and whose values are the documents
// encoded as JSON objects. All writes to one document happen in a single transaction, so they are
// atomic.
//
// Subscribers registered with Watch are notified after each committed write.
type BoltDB struct {
	db *bolt.DB

	watchers *watchers
}

const (
	collectionsBucket = "collections"
	idAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(collectionsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db, watchers: newWatchers()}, nil
}

// Close closes the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// newDocumentID generates a 20 character alphanumeric ID, the same shape as Firestore's
// auto-generated IDs.
func newDocumentID() string {
	a, c := uuid.New(), uuid.New()
	src := append(a[:], c[:]...)
	id := make([]byte, models.ChatIDLength)
	for i := range id {
		id[i] = idAlphabet[int(src[i])%len(idAlphabet)]
	}
	return string(id)
}

func collectionBucket(tx *bolt.Tx, collection string) *bolt.Bucket {
	return tx.Bucket([]byte(collectionsBucket)).Bucket([]byte(collection))
}

// Get retrieves the document at path. It returns models.ErrNotFound if there is no such document.
func (b BoltDB) Get(_ context.Context, path string) (models.Document, error) {
	collection, id, err := models.SplitDocumentPath(path)
	if err != nil {
		return models.Document{}, err
	}

	var doc models.Document
	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := collectionBucket(tx, collection)
		if bucket == nil {
			return models.ErrNotFound
		}
		v := bucket.Get([]byte(id))
		if v == nil {
			return models.ErrNotFound
		}
		// Values returned by bolt are only valid for the life of the transaction.
		doc = models.Document{ID: id, Path: path, Data: slices.Clone(v)}
		return nil
	})
	return doc, err
}

// Add stores a new document with a generated ID in the collection and returns the ID.
func (b BoltDB) Add(_ context.Context, collection string, fields map[string]any) (string, error) {
	if err := models.ValidateCollectionPath(collection); err != nil {
		return "", err
	}

	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket([]byte(collectionsBucket)).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create collection bucket: %w", err)
		}

		newID = newDocumentID()
		for bucket.Get([]byte(newID)) != nil {
			newID = newDocumentID()
		}

		v, err := encodeFields(nil, fields)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(newID), v); err != nil {
			return err
		}

		tx.OnCommit(func() { b.watchers.notify(collection) })
		return nil
	})

	return newID, err
}

// Set creates or overwrites the document at path with the given fields.
func (b BoltDB) Set(_ context.Context, path string, fields map[string]any) error {
	collection, id, err := models.SplitDocumentPath(path)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket([]byte(collectionsBucket)).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create collection bucket: %w", err)
		}

		v, err := encodeFields(nil, fields)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(id), v); err != nil {
			return err
		}

		tx.OnCommit(func() { b.watchers.notify(collection) })
		return nil
	})
}

// Update replaces the given top-level fields of the document at path and leaves the others
// untouched. It returns models.ErrNotFound if there is no such document.
func (b BoltDB) Update(_ context.Context, path string, fields map[string]any) error {
	collection, id, err := models.SplitDocumentPath(path)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := collectionBucket(tx, collection)
		if bucket == nil {
			return models.ErrNotFound
		}
		v := bucket.Get([]byte(id))
		if v == nil {
			return models.ErrNotFound
		}

		var current map[string]json.RawMessage
		if err := json.Unmarshal(v, &current); err != nil {
			return fmt.Errorf("failed to unmarshal document: %w", err)
		}

		nv, err := encodeFields(current, fields)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(id), nv); err != nil {
			return err
		}

		tx.OnCommit(func() { b.watchers.notify(collection) })
		return nil
	})
}

// Delete removes the document at path. Deleting a missing document is not an error.
func (b BoltDB) Delete(_ context.Context, path string) error {
	collection, id, err := models.SplitDocumentPath(path)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := collectionBucket(tx, collection)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return nil
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}

		tx.OnCommit(func() { b.watchers.notify(collection) })
		return nil
	})
}

// List returns the documents of the collection matching the query. Like Firestore, ordering by a
// field excludes the documents that do not have it.
func (b BoltDB) List(_ context.Context, collection string, q models.Query) ([]models.Document, error) {
	if err := models.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}

	var docs []queryDoc
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := collectionBucket(tx, collection)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(v, &fields); err != nil {
				return fmt.Errorf("failed to unmarshal document %s: %w", k, err)
			}
			docs = append(docs, queryDoc{
				doc: models.Document{
					ID:   string(k),
					Path: collection + "/" + string(k),
					Data: slices.Clone(v),
				},
				fields: fields,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return applyQuery(docs, q)
}

// Watch returns a sequence of snapshots of every collection named group, such as "chats" for all
// users' chat collections. It first yields the current state of each existing collection, then a
// fresh snapshot of a collection each time a write to it is committed. Bursts of writes are
// coalesced into one snapshot. The sequence ends when ctx is done or the consumer stops.
func (b BoltDB) Watch(ctx context.Context, group string, q models.Query) iter.Seq2[models.CollectionSnapshot, error] {
	return func(yield func(models.CollectionSnapshot, error) bool) {
		w, unsubscribe := b.watchers.subscribe()
		defer unsubscribe()

		collections, err := b.collections(group)
		if err != nil {
			yield(models.CollectionSnapshot{}, err)
			return
		}

		for {
			for _, collection := range collections {
				docs, err := b.List(ctx, collection, q)
				if !yield(models.CollectionSnapshot{Path: collection, Docs: docs}, err) {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}

			collections = slices.DeleteFunc(w.drain(), func(c string) bool {
				return !inGroup(c, group)
			})
		}
	}
}

func (b BoltDB) collections(group string) ([]string, error) {
	var res []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(collectionsBucket)).ForEach(func(k, v []byte) error {
			// Nested buckets have nil values.
			if v == nil && inGroup(string(k), group) {
				res = append(res, string(k))
			}
			return nil
		})
	})
	return res, err
}

func inGroup(collection, group string) bool {
	return collection == group || strings.HasSuffix(collection, "/"+group)
}

func encodeFields(current map[string]json.RawMessage, fields map[string]any) ([]byte, error) {
	if current == nil {
		current = make(map[string]json.RawMessage, len(fields))
	}

	for k, v := range fields {
		if s, ok := v.(models.Sentinel); ok && s == models.ServerTimestamp {
			v = time.Now().UTC()
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %s: %w", k, err)
		}
		current[k] = raw
	}

	v, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return v, nil
}

type watchers struct {
	mu   sync.Mutex
	next int
	subs map[int]*watcher
}

type watcher struct {
	mu      sync.Mutex
	pending map[string]struct{}
	signal  chan struct{}
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[int]*watcher)}
}

func (ws *watchers) subscribe() (*watcher, func()) {
	w := &watcher{
		pending: make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
	}

	ws.mu.Lock()
	id := ws.next
	ws.next++
	ws.subs[id] = w
	ws.mu.Unlock()

	return w, func() {
		ws.mu.Lock()
		delete(ws.subs, id)
		ws.mu.Unlock()
	}
}

func (ws *watchers) notify(collection string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for _, w := range ws.subs {
		w.mu.Lock()
		w.pending[collection] = struct{}{}
		w.mu.Unlock()

		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

func (w *watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := make([]string, 0, len(w.pending))
	for c := range w.pending {
		res = append(res, c)
	}
	clear(w.pending)
	slices.Sort(res)
	return res
}
