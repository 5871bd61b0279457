package datastore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound indicates a lookup matched no document. It is a domain
// outcome, not a provider failure: it never trips a circuit breaker.
var ErrNotFound = errors.New("document not found")

// Repository provides typed CRUD over one collection, routed through the
// datastore failover router. E is the entity's BSON document type.
type Repository[E any] struct {
	router     *Router
	collection string
}

// NewRepository binds an entity type to a collection on the given router.
func NewRepository[E any](router *Router, collection string) *Repository[E] {
	return &Repository[E]{
		router:     router,
		collection: collection,
	}
}

// Collection returns the bound collection name.
func (r *Repository[E]) Collection() string {
	return r.collection
}

func (r *Repository[E]) opName(method string) string {
	return fmt.Sprintf("%s.%s", r.collection, method)
}

// FindOne returns the first document matching filter, or ErrNotFound.
//
// A miss is returned by the provider as a successful empty result so the
// breaker only counts real provider failures; the sentinel is restored here.
func (r *Repository[E]) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) (*E, error) {
	entity, err := Execute(ctx, r.router, r.opName("findOne"), func(ctx context.Context, db *mongo.Database) (*E, error) {
		var entity E

		err := db.Collection(r.collection).FindOne(ctx, filter, opts...).Decode(&entity)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		return &entity, nil
	})
	if err != nil {
		return nil, err
	}

	if entity == nil {
		return nil, ErrNotFound
	}

	return entity, nil
}

// Find returns every document matching filter. No match yields an empty
// slice, not an error.
func (r *Repository[E]) Find(ctx context.Context, filter any, opts ...*options.FindOptions) ([]E, error) {
	return Execute(ctx, r.router, r.opName("find"), func(ctx context.Context, db *mongo.Database) ([]E, error) {
		cursor, err := db.Collection(r.collection).Find(ctx, filter, opts...)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		entities := make([]E, 0)
		if err := cursor.All(ctx, &entities); err != nil {
			return nil, err
		}

		return entities, nil
	})
}

// InsertOne stores entity and returns the generated document ID.
func (r *Repository[E]) InsertOne(ctx context.Context, entity *E) (any, error) {
	return Execute(ctx, r.router, r.opName("insertOne"), func(ctx context.Context, db *mongo.Database) (any, error) {
		result, err := db.Collection(r.collection).InsertOne(ctx, entity)
		if err != nil {
			return nil, err
		}

		return result.InsertedID, nil
	})
}

// UpdateOne applies update to the first document matching filter and
// returns the number of documents modified.
func (r *Repository[E]) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (int64, error) {
	return Execute(ctx, r.router, r.opName("updateOne"), func(ctx context.Context, db *mongo.Database) (int64, error) {
		result, err := db.Collection(r.collection).UpdateOne(ctx, filter, update, opts...)
		if err != nil {
			return 0, err
		}

		return result.ModifiedCount, nil
	})
}

// DeleteOne removes the first document matching filter and returns the
// number of documents deleted.
func (r *Repository[E]) DeleteOne(ctx context.Context, filter any) (int64, error) {
	return Execute(ctx, r.router, r.opName("deleteOne"), func(ctx context.Context, db *mongo.Database) (int64, error) {
		result, err := db.Collection(r.collection).DeleteOne(ctx, filter)
		if err != nil {
			return 0, err
		}

		return result.DeletedCount, nil
	})
}

// Count returns the number of documents matching filter. A nil filter
// counts the whole collection.
func (r *Repository[E]) Count(ctx context.Context, filter any) (int64, error) {
	return Execute(ctx, r.router, r.opName("count"), func(ctx context.Context, db *mongo.Database) (int64, error) {
		if filter == nil {
			filter = bson.D{}
		}

		return db.Collection(r.collection).CountDocuments(ctx, filter)
	})
}
