package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

const (
	unitsCollection     = "units"
	requestsCollection  = "requests"
	snapshotsCollection = "stock_snapshots"
)

// Repository persists blood units, requests and daily stock snapshots.
type Repository interface {
	SaveUnits(ctx context.Context, units []models.BloodUnit) error
	SaveRequests(ctx context.Context, reqs []models.Request) error
	LoadUnits(ctx context.Context) ([]models.BloodUnit, error)
	LoadRequests(ctx context.Context) ([]models.Request, error)
	SaveStockSnapshot(ctx context.Context, snapshot models.StockSnapshot) error
}

// MongoDBRepository implements Repository on MongoDB.
type MongoDBRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoDBRepository connects, pings and makes sure the lookup indexes exist.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	repo := &MongoDBRepository{
		client: client,
		db:     client.Database(dbName),
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *MongoDBRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(unitsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "blood_type", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "reserved_for", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create unit indexes: %w", err)
	}
	_, err = r.db.Collection(requestsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "required_by", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create request indexes: %w", err)
	}
	return nil
}

// SaveUnits upserts units by unit number.
func (r *MongoDBRepository) SaveUnits(ctx context.Context, units []models.BloodUnit) error {
	if len(units) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(units))
	for _, u := range units {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": u.ID}).
			SetReplacement(u).
			SetUpsert(true))
	}
	if _, err := r.db.Collection(unitsCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to upsert %d units: %w", len(units), err)
	}
	return nil
}

// SaveRequests upserts requests by id.
func (r *MongoDBRepository) SaveRequests(ctx context.Context, reqs []models.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(reqs))
	for _, req := range reqs {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": req.ID}).
			SetReplacement(req).
			SetUpsert(true))
	}
	if _, err := r.db.Collection(requestsCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to upsert %d requests: %w", len(reqs), err)
	}
	return nil
}

// LoadUnits returns every stored unit, oldest collection first.
func (r *MongoDBRepository) LoadUnits(ctx context.Context) ([]models.BloodUnit, error) {
	opts := options.Find().SetSort(bson.D{{Key: "collected_at", Value: 1}})
	cursor, err := r.db.Collection(unitsCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	var units []models.BloodUnit
	if err := cursor.All(ctx, &units); err != nil {
		return nil, fmt.Errorf("failed to decode units: %w", err)
	}
	return units, nil
}

// LoadRequests returns every stored request.
func (r *MongoDBRepository) LoadRequests(ctx context.Context) ([]models.Request, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.db.Collection(requestsCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	var reqs []models.Request
	if err := cursor.All(ctx, &reqs); err != nil {
		return nil, fmt.Errorf("failed to decode requests: %w", err)
	}
	return reqs, nil
}

// SaveStockSnapshot stores a daily stock snapshot.
func (r *MongoDBRepository) SaveStockSnapshot(ctx context.Context, snapshot models.StockSnapshot) error {
	_, err := r.db.Collection(snapshotsCollection).InsertOne(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("failed to insert stock snapshot: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
