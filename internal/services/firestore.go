package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/MegaGrindStone/chatrelay/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore implements the document store on Google Cloud Firestore. It exposes the same
// operations and semantics as BoltDB, so the rest of the application is unaware of which one is
// configured.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to the Firestore database of the given Google Cloud project. Credentials
// are resolved from the environment, and FIRESTORE_EMULATOR_HOST selects a local emulator.
func NewFirestore(ctx context.Context, projectID string) (Firestore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return Firestore{}, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return Firestore{client: client}, nil
}

// Close closes the underlying client connection.
func (f Firestore) Close() error {
	return f.client.Close()
}

func (f Firestore) doc(path string) (*firestore.DocumentRef, error) {
	if _, _, err := models.SplitDocumentPath(path); err != nil {
		return nil, err
	}
	ref := f.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("invalid document path %q", path)
	}
	return ref, nil
}

// Get retrieves the document at path. It returns models.ErrNotFound if there is no such document.
func (f Firestore) Get(ctx context.Context, path string) (models.Document, error) {
	ref, err := f.doc(path)
	if err != nil {
		return models.Document{}, err
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.Document{}, models.ErrNotFound
		}
		return models.Document{}, fmt.Errorf("failed to get document: %w", err)
	}
	return snapshotDocument(path, snap)
}

// Add stores a new document with a Firestore generated ID in the collection and returns the ID.
func (f Firestore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := models.ValidateCollectionPath(collection); err != nil {
		return "", err
	}

	data, err := firestoreFields(fields)
	if err != nil {
		return "", err
	}

	ref := f.client.Collection(collection).NewDoc()
	if _, err := ref.Create(ctx, data); err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	return ref.ID, nil
}

// Set creates or overwrites the document at path with the given fields.
func (f Firestore) Set(ctx context.Context, path string, fields map[string]any) error {
	ref, err := f.doc(path)
	if err != nil {
		return err
	}

	data, err := firestoreFields(fields)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, data); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

// Update replaces the given top-level fields of the document at path in a single write. It
// returns models.ErrNotFound if there is no such document.
func (f Firestore) Update(ctx context.Context, path string, fields map[string]any) error {
	ref, err := f.doc(path)
	if err != nil {
		return err
	}

	data, err := firestoreFields(fields)
	if err != nil {
		return err
	}
	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}

	if _, err := ref.Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// Delete removes the document at path. Deleting a missing document is not an error.
func (f Firestore) Delete(ctx context.Context, path string) error {
	ref, err := f.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// List returns the documents of the collection matching the query.
func (f Firestore) List(ctx context.Context, collection string, q models.Query) ([]models.Document, error) {
	if err := models.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}

	query := f.client.Collection(collection).Query
	for _, w := range q.Where {
		query = query.Where(w.Field, w.Op, w.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	it := query.Documents(ctx)
	defer it.Stop()

	var docs []models.Document
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		doc, err := snapshotDocument(collection+"/"+snap.Ref.ID, snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Watch listens to every collection named group and yields a fresh snapshot of a collection each
// time one of its documents changes. The first listener event carries every existing document, so
// the sequence starts with the current state of each collection.
func (f Firestore) Watch(ctx context.Context, group string, q models.Query) iter.Seq2[models.CollectionSnapshot, error] {
	return func(yield func(models.CollectionSnapshot, error) bool) {
		it := f.client.CollectionGroup(group).Snapshots(ctx)
		defer it.Stop()

		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				yield(models.CollectionSnapshot{}, fmt.Errorf("failed to listen to %s: %w", group, err))
				return
			}

			var changed []string
			for _, ch := range qs.Changes {
				collection := relativePath(ch.Doc.Ref.Parent.Path)
				if !slices.Contains(changed, collection) {
					changed = append(changed, collection)
				}
			}

			for _, collection := range changed {
				docs, err := f.List(ctx, collection, q)
				if !yield(models.CollectionSnapshot{Path: collection, Docs: docs}, err) {
					return
				}
			}
		}
	}
}

// relativePath strips the projects/{p}/databases/{d}/documents/ prefix of a resource name.
func relativePath(name string) string {
	if _, rest, ok := strings.Cut(name, "/documents/"); ok {
		return rest
	}
	return name
}

// firestoreFields converts field values into plain maps and slices so Firestore stores them with
// their JSON field names, and replaces sentinels with their Firestore equivalents.
func firestoreFields(fields map[string]any) (map[string]any, error) {
	res := make(map[string]any, len(fields))
	for k, v := range fields {
		switch tv := v.(type) {
		case models.Sentinel:
			if tv != models.ServerTimestamp {
				return nil, fmt.Errorf("unknown sentinel for field %s", k)
			}
			res[k] = firestore.ServerTimestamp
		case time.Time, string, bool, int, int64, float64, nil:
			res[k] = tv
		default:
			nv, err := normalizeValue(v)
			if err != nil {
				return nil, fmt.Errorf("failed to convert field %s: %w", k, err)
			}
			res[k] = nv
		}
	}
	return res, nil
}

func snapshotDocument(path string, snap *firestore.DocumentSnapshot) (models.Document, error) {
	if snap == nil || !snap.Exists() {
		return models.Document{}, models.ErrNotFound
	}
	data, err := json.Marshal(snap.Data())
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to encode document: %w", err)
	}
	return models.Document{ID: snap.Ref.ID, Path: path, Data: data}, nil
}
