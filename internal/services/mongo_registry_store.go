package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"vssyl/internal/database"
	"vssyl/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRegistryStore implements Store on MongoDB
type MongoRegistryStore struct {
	mongoDB *database.MongoDB
}

// NewMongoRegistryStore creates a MongoDB-backed registry store
func NewMongoRegistryStore(mongoDB *database.MongoDB) *MongoRegistryStore {
	return &MongoRegistryStore{mongoDB: mongoDB}
}

// EnsureIndexes creates the collection indexes the store relies on
func (s *MongoRegistryStore) EnsureIndexes(ctx context.Context) error {
	return s.mongoDB.Initialize(ctx)
}

// Ping checks the MongoDB connection
func (s *MongoRegistryStore) Ping(ctx context.Context) error {
	return s.mongoDB.Ping(ctx)
}

func (s *MongoRegistryStore) registry() *mongo.Collection {
	return s.mongoDB.Collection(database.CollectionModuleContextReg)
}

func (s *MongoRegistryStore) modules() *mongo.Collection {
	return s.mongoDB.Collection(database.CollectionModules)
}

func (s *MongoRegistryStore) installations() *mongo.Collection {
	return s.mongoDB.Collection(database.CollectionModuleInstallations)
}

func (s *MongoRegistryStore) metrics() *mongo.Collection {
	return s.mongoDB.Collection(database.CollectionModuleMetrics)
}

// GetEntry returns a registry entry by module id
func (s *MongoRegistryStore) GetEntry(ctx context.Context, moduleID string) (*models.ModuleContextEntry, bool, error) {
	var entry models.ModuleContextEntry
	err := s.registry().FindOne(ctx, bson.M{"_id": moduleID}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get registry entry: %w", err)
	}
	return &entry, true, nil
}

// ListEntries returns the entries for moduleIDs, or all entries when moduleIDs is nil
func (s *MongoRegistryStore) ListEntries(ctx context.Context, moduleIDs []string) ([]models.ModuleContextEntry, error) {
	filter := bson.M{}
	if moduleIDs != nil {
		if len(moduleIDs) == 0 {
			return []models.ModuleContextEntry{}, nil
		}
		filter["_id"] = bson.M{"$in": moduleIDs}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.registry().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []models.ModuleContextEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode registry entries: %w", err)
	}
	return entries, nil
}

// ListEntryIDs returns the module id of every registry entry
func (s *MongoRegistryStore) ListEntryIDs(ctx context.Context) ([]string, error) {
	values, err := s.registry().Distinct(ctx, "_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list registry ids: %w", err)
	}
	return distinctStrings(values), nil
}

// CreateEntry inserts a new registry entry
func (s *MongoRegistryStore) CreateEntry(ctx context.Context, entry *models.ModuleContextEntry) error {
	if _, err := s.registry().InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to create registry entry: %w", err)
	}
	return nil
}

// UpdateEntry overwrites an existing registry entry
func (s *MongoRegistryStore) UpdateEntry(ctx context.Context, entry *models.ModuleContextEntry) error {
	result, err := s.registry().ReplaceOne(ctx, bson.M{"_id": entry.ModuleID}, entry)
	if err != nil {
		return fmt.Errorf("failed to update registry entry: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("registry entry %s not found", entry.ModuleID)
	}
	return nil
}

// DeleteEntries removes the given entries in a single DeleteMany
func (s *MongoRegistryStore) DeleteEntries(ctx context.Context, moduleIDs []string) (int64, error) {
	if len(moduleIDs) == 0 {
		return 0, nil
	}

	result, err := s.registry().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": moduleIDs}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete registry entries: %w", err)
	}
	return result.DeletedCount, nil
}

// GetModule returns a module by id
func (s *MongoRegistryStore) GetModule(ctx context.Context, moduleID string) (*models.Module, bool, error) {
	var module models.Module
	err := s.modules().FindOne(ctx, bson.M{"_id": moduleID}).Decode(&module)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get module: %w", err)
	}
	return &module, true, nil
}

// ListModulesByStatus returns all modules in the given review state
func (s *MongoRegistryStore) ListModulesByStatus(ctx context.Context, status models.ModuleStatus) ([]models.Module, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.modules().Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer cursor.Close(ctx)

	modules := []models.Module{}
	if err := cursor.All(ctx, &modules); err != nil {
		return nil, fmt.Errorf("failed to decode modules: %w", err)
	}
	return modules, nil
}

// UpsertModule inserts or replaces a module definition, keeping its creation time
func (s *MongoRegistryStore) UpsertModule(ctx context.Context, module *models.Module) error {
	now := time.Now().UTC()
	if module.CreatedAt.IsZero() {
		module.CreatedAt = now
	}
	module.UpdatedAt = now

	update := bson.M{
		"$set": bson.M{
			"name":      module.Name,
			"version":   module.Version,
			"status":    module.Status,
			"manifest":  module.Manifest,
			"updatedAt": module.UpdatedAt,
		},
		"$setOnInsert": bson.M{"createdAt": module.CreatedAt},
	}

	_, err := s.modules().UpdateOne(ctx, bson.M{"_id": module.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert module: %w", err)
	}
	return nil
}

// InstalledModuleIDs returns the ids of modules the user has enabled
func (s *MongoRegistryStore) InstalledModuleIDs(ctx context.Context, userID string) ([]string, error) {
	values, err := s.installations().Distinct(ctx, "moduleId", bson.M{"userId": userID, "enabled": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	return distinctStrings(values), nil
}

// SetInstallation creates or updates a user's installation of a module
func (s *MongoRegistryStore) SetInstallation(ctx context.Context, installation *models.ModuleInstallation) error {
	if installation.InstalledAt.IsZero() {
		installation.InstalledAt = time.Now().UTC()
	}

	filter := bson.M{"moduleId": installation.ModuleID, "userId": installation.UserID}
	update := bson.M{"$set": bson.M{
		"enabled":     installation.Enabled,
		"installedAt": installation.InstalledAt,
	}}

	_, err := s.installations().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set installation: %w", err)
	}
	return nil
}

// CountEnabledInstallations counts users that still have the module enabled
func (s *MongoRegistryStore) CountEnabledInstallations(ctx context.Context, moduleID string) (int64, error) {
	count, err := s.installations().CountDocuments(ctx, bson.M{"moduleId": moduleID, "enabled": true})
	if err != nil {
		return 0, fmt.Errorf("failed to count installations: %w", err)
	}
	return count, nil
}

// IncrementDailyMetrics adds delta to the (moduleID, day) document with an $inc upsert
func (s *MongoRegistryStore) IncrementDailyMetrics(ctx context.Context, moduleID string, day time.Time, delta models.MetricDelta) error {
	filter := bson.M{"moduleId": moduleID, "date": models.MetricsDay(day)}
	update := bson.M{"$inc": bson.M{
		"fetchCount":        delta.Fetches,
		"successCount":      delta.Successes,
		"failureCount":      delta.Failures,
		"errorCount":        delta.Errors,
		"totalLatencyMs":    delta.LatencyMs,
		"totalPayloadBytes": delta.PayloadBytes,
	}}

	_, err := s.metrics().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to increment daily metrics: %w", err)
	}
	return nil
}

// GetDailyMetrics returns the buckets for moduleID between from and to inclusive
func (s *MongoRegistryStore) GetDailyMetrics(ctx context.Context, moduleID string, from, to time.Time) ([]models.DailyModuleMetrics, error) {
	filter := bson.M{
		"moduleId": moduleID,
		"date": bson.M{
			"$gte": models.MetricsDay(from),
			"$lte": models.MetricsDay(to),
		},
	}

	cursor, err := s.metrics().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer cursor.Close(ctx)

	result := []models.DailyModuleMetrics{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode daily metrics: %w", err)
	}
	for i := range result {
		result[i].Date = result[i].Date.UTC()
	}
	return result, nil
}

// DeleteDailyMetricsBefore removes buckets older than cutoff's UTC day
func (s *MongoRegistryStore) DeleteDailyMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.metrics().DeleteMany(ctx, bson.M{"date": bson.M{"$lt": models.MetricsDay(cutoff)}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete daily metrics: %w", err)
	}
	return result.DeletedCount, nil
}

func distinctStrings(values []interface{}) []string {
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
