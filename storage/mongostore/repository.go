package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// Repository is the generic document-store implementation of storage.Store,
// grounded on the collection/cursor/indexView wrapper in
// features/runlog/mongo/clients/mongo/client.go from the teacher, widened
// from one hand-written document shape to any domain.Entity via generics.
type Repository[T storage.Entity] struct {
	coll collection
	newT func() T
}

// New builds a Repository backed by database.collectionName on client. If
// nameUnique is set a sparse unique index on "name" is created in addition
// to the (created_at, _id) cursor index, for entities addressable by name
// (Agent, Task).
func New[T storage.Entity](client *mongodriver.Client, database, collectionName string, newT func() T, nameUnique bool) (*Repository[T], error) {
	if client == nil {
		return nil, domain.ServiceError(nil, "mongostore: client is required")
	}
	coll := wrapCollection(client.Database(database).Collection(collectionName))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ensureIndexes(ctx, coll, nameUnique); err != nil {
		return nil, domain.ServiceError(err, "mongostore: ensure indexes on %s", collectionName)
	}
	return &Repository[T]{coll: coll, newT: newT}, nil
}

func newWithCollection[T storage.Entity](coll collection, newT func() T) *Repository[T] {
	return &Repository[T]{coll: coll, newT: newT}
}

func (r *Repository[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	if item.GetID() == "" {
		item.SetID(bson.NewObjectID().Hex())
	}
	now := time.Now().UTC()
	if item.GetCreatedAt().IsZero() {
		item.SetCreatedAt(now)
	}
	item.SetUpdatedAt(now)

	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := r.coll.InsertOne(ctx, item)
		return err
	})
	if err != nil {
		return zero, translate(err, "mongostore: create failed")
	}
	return item, nil
}

func (r *Repository[T]) BatchCreate(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	docs := make([]any, len(items))
	for i, item := range items {
		if item.GetID() == "" {
			item.SetID(bson.NewObjectID().Hex())
		}
		if item.GetCreatedAt().IsZero() {
			item.SetCreatedAt(now)
		}
		item.SetUpdatedAt(now)
		docs[i] = item
	}
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := r.coll.InsertMany(ctx, docs)
		return err
	})
	if err != nil {
		return nil, translate(err, "mongostore: batch create failed")
	}
	return items, nil
}

func (r *Repository[T]) Get(ctx context.Context, sel storage.Selector) (T, error) {
	var zero T
	filter, err := selectorFilter(sel)
	if err != nil {
		return zero, err
	}
	item := r.newT()
	if err := r.coll.FindOne(ctx, filter).Decode(item); err != nil {
		return zero, translate(err, "mongostore: get failed")
	}
	return item, nil
}

func (r *Repository[T]) GetByField(ctx context.Context, field string, value any) (T, error) {
	var zero T
	item := r.newT()
	if err := r.coll.FindOne(ctx, bson.M{field: value}).Decode(item); err != nil {
		return zero, translate(err, "mongostore: get by %s failed", field)
	}
	return item, nil
}

func (r *Repository[T]) FindByField(ctx context.Context, field string, value any, opts storage.ListOptions) ([]T, error) {
	filter := bson.M{field: value}
	mergeFilters(filter, opts.Filters)
	return r.find(ctx, filter, listFindOptions(opts))
}

func (r *Repository[T]) List(ctx context.Context, opts storage.ListOptions) ([]T, error) {
	filter := bson.M{}
	mergeFilters(filter, opts.Filters)
	return r.find(ctx, filter, listFindOptions(opts))
}

func (r *Repository[T]) FindByFieldWithCursor(ctx context.Context, field string, value any, opts storage.CursorOptions) ([]T, error) {
	filter := bson.M{field: value}
	mergeFilters(filter, opts.Filters)

	if opts.AfterID != "" {
		if c, ok := r.resolveCursor(ctx, opts.AfterID); ok {
			filter["$or"] = []bson.M{
				{"created_at": bson.M{"$gt": c.CreatedAt}},
				{"created_at": c.CreatedAt, "_id": bson.M{"$lt": c.ID}},
			}
		}
		// unresolved cursor id: unbounded, per original spec §4.1.
	}
	if opts.BeforeID != "" {
		if c, ok := r.resolveCursor(ctx, opts.BeforeID); ok {
			filter["$or"] = []bson.M{
				{"created_at": bson.M{"$lt": c.CreatedAt}},
				{"created_at": c.CreatedAt, "_id": bson.M{"$gt": c.ID}},
			}
		}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	return r.find(ctx, filter, findOpts)
}

// cursorDoc decodes just the two fields needed to resolve a cursor id into
// comparable coordinates, without pulling in T's full shape.
type cursorDoc struct {
	ID        string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func (r *Repository[T]) resolveCursor(ctx context.Context, id string) (storage.Cursor, bool) {
	var doc cursorDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return storage.Cursor{}, false
	}
	return storage.Cursor{CreatedAt: doc.CreatedAt, ID: doc.ID}, true
}

func (r *Repository[T]) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]T, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err, "mongostore: find failed")
	}
	defer cur.Close(ctx)

	var results []T
	for cur.Next(ctx) {
		item := r.newT()
		if err := cur.Decode(item); err != nil {
			return nil, domain.ServiceError(err, "mongostore: decode failed")
		}
		results = append(results, item)
	}
	if err := cur.Err(); err != nil {
		return nil, domain.ServiceError(err, "mongostore: cursor iteration failed")
	}
	return results, nil
}

func (r *Repository[T]) Update(ctx context.Context, item T) (T, error) {
	var zero T
	id := item.GetID()
	if id == "" {
		return zero, domain.ClientError("mongostore: update requires an id")
	}
	item.SetUpdatedAt(time.Now().UTC())

	var result *mongodriver.UpdateResult
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = r.coll.ReplaceOne(ctx, bson.M{"_id": id}, item)
		return err
	})
	if err != nil {
		return zero, translate(err, "mongostore: update failed")
	}
	if result.MatchedCount == 0 {
		return zero, domain.NotFound("mongostore: no document with id %q", id)
	}
	return item, nil
}

func (r *Repository[T]) BatchUpdate(ctx context.Context, items []T) ([]T, error) {
	updated := make([]T, 0, len(items))
	for _, item := range items {
		u, err := r.Update(ctx, item)
		if err != nil {
			return nil, err
		}
		updated = append(updated, u)
	}
	return updated, nil
}

func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translate(err, "mongostore: delete failed")
	}
	if res.DeletedCount == 0 {
		return domain.NotFound("mongostore: no document with id %q", id)
	}
	return nil
}

func (r *Repository[T]) BatchDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return translate(err, "mongostore: batch delete failed")
	}
	return nil
}

func (r *Repository[T]) DeleteByField(ctx context.Context, field string, value any) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{field: value})
	if err != nil {
		return 0, translate(err, "mongostore: delete by %s failed", field)
	}
	return res.DeletedCount, nil
}

func selectorFilter(sel storage.Selector) (bson.M, error) {
	switch {
	case sel.ID != "" && sel.Name != "":
		return nil, domain.ClientError("mongostore: selector must set exactly one of id or name")
	case sel.ID != "":
		return bson.M{"_id": sel.ID}, nil
	case sel.Name != "":
		return bson.M{"name": sel.Name}, nil
	default:
		return nil, domain.ClientError("mongostore: selector must set exactly one of id or name")
	}
}

func mergeFilters(dst bson.M, extra map[string]any) {
	for k, v := range extra {
		dst[k] = v
	}
}

func listFindOptions(opts storage.ListOptions) *options.FindOptionsBuilder {
	findOpts := options.Find()
	sortField := "created_at"
	if opts.OrderBy != "" {
		sortField = opts.OrderBy
	}
	dir := -1
	if opts.OrderDirection == storage.OrderAsc {
		dir = 1
	}
	findOpts.SetSort(bson.D{{Key: sortField, Value: dir}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
		if opts.PageNumber > 1 {
			findOpts.SetSkip(int64((opts.PageNumber - 1) * opts.Limit))
		}
	}
	return findOpts
}
