package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"deskwatch/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const availabilityTTL = 10 * time.Second

// MongoStore persists monitoring data to MongoDB. Screenshot images go to a
// GridFS bucket; everything else is a plain document.
type MongoStore struct {
	db          database.Service
	screenshots *mongo.Collection
	recordings  *mongo.Collection
	segments    *mongo.Collection
	activity    *mongo.Collection
	network     *mongo.Collection
	excluded    *mongo.Collection
	status      *mongo.Collection
	fs          *gridfs.Bucket

	mu           sync.Mutex
	available    bool
	checkedAt    time.Time
	availableTTL time.Duration
}

func NewMongoStore(db database.Service) (*MongoStore, error) {
	mdb := db.GetDatabase()
	fs, err := gridfs.NewBucket(mdb, options.GridFSBucket().SetName("screenshot_images"))
	if err != nil {
		return nil, fmt.Errorf("failed to create GridFS bucket: %w", err)
	}

	return &MongoStore{
		db:           db,
		screenshots:  mdb.Collection("screenshots"),
		recordings:   mdb.Collection("recordings"),
		segments:     mdb.Collection("recording_segments"),
		activity:     mdb.Collection("user_activity"),
		network:      mdb.Collection("network_usage"),
		excluded:     mdb.Collection("excluded_windows"),
		status:       mdb.Collection("process_status"),
		fs:           fs,
		availableTTL: availabilityTTL,
	}, nil
}

// EnsureIndexes creates the indexes the lookups rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := map[*mongo.Collection][]mongo.IndexModel{
		s.recordings: {
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
		},
		s.segments: {
			{Keys: bson.D{{Key: "recording_id", Value: 1}, {Key: "segment_number", Value: 1}}},
		},
		s.screenshots: {
			{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		s.activity: {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		},
		s.excluded: {
			{Keys: bson.D{{Key: "window_title", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, idx := range models {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// IsAvailable pings the server, caching the answer briefly so a burst of
// writes does not turn into a burst of pings.
func (s *MongoStore) IsAvailable(ctx context.Context) bool {
	s.mu.Lock()
	if !s.checkedAt.IsZero() && time.Since(s.checkedAt) < s.availableTTL {
		ok := s.available
		s.mu.Unlock()
		return ok
	}
	s.mu.Unlock()

	err := s.db.Ping(ctx)

	s.mu.Lock()
	s.available = err == nil
	s.checkedAt = time.Now()
	s.mu.Unlock()

	if err != nil {
		log.Printf("Storage: MongoDB ping failed: %v", err)
	}
	return err == nil
}

func (s *MongoStore) markUnavailable() {
	s.mu.Lock()
	s.available = false
	s.checkedAt = time.Now()
	s.mu.Unlock()
}

// failed wraps an operation error. A network error also marks the store
// unavailable until the next ping.
func (s *MongoStore) failed(what string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		s.markUnavailable()
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func (s *MongoStore) SaveScreenshot(ctx context.Context, shot Screenshot) error {
	if shot.CreatedAt.IsZero() {
		shot.CreatedAt = time.Now()
	}

	if len(shot.Image) > 0 {
		imageID := primitive.NewObjectID()
		upload, err := s.fs.OpenUploadStreamWithID(imageID, shot.Filename)
		if err != nil {
			return s.failed("open upload stream", err)
		}
		if _, err := upload.Write(shot.Image); err != nil {
			upload.Abort()
			return s.failed("write screenshot image", err)
		}
		if err := upload.Close(); err != nil {
			return s.failed("finish screenshot upload", err)
		}
		shot.ImageID = imageID
		shot.Size = int64(len(shot.Image))
	}

	if _, err := s.screenshots.InsertOne(ctx, shot); err != nil {
		if !shot.ImageID.IsZero() {
			if derr := s.fs.Delete(shot.ImageID); derr != nil {
				log.Printf("Storage: failed to delete orphaned image %s: %v", shot.ImageID.Hex(), derr)
			}
		}
		return s.failed("insert screenshot", err)
	}
	return nil
}

// ScreenshotImage returns the PNG bytes stored for a screenshot.
func (s *MongoStore) ScreenshotImage(ctx context.Context, imageID primitive.ObjectID) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.fs.DownloadToStream(imageID, &buf); err != nil {
		return nil, fmt.Errorf("failed to download screenshot image: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *MongoStore) SaveRecording(ctx context.Context, r Recording) (RecordingID, error) {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	res, err := s.recordings.InsertOne(ctx, r)
	if err != nil {
		return "", s.failed("insert recording", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected recording id type %T", res.InsertedID)
	}
	return RecordingID(oid.Hex()), nil
}

func (s *MongoStore) SaveSegment(ctx context.Context, seg Segment) error {
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now()
	}
	if _, err := s.segments.InsertOne(ctx, seg); err != nil {
		return s.failed("insert segment", err)
	}
	return nil
}

// UpdateRecordingMetadata sets only the fields present in u on the most
// recent recording of the session.
func (s *MongoStore) UpdateRecordingMetadata(ctx context.Context, u RecordingUpdate) error {
	set := bson.M{"updated_at": time.Now()}
	if u.Filename != nil {
		set["filename"] = *u.Filename
	}
	if u.FilePath != nil {
		set["file_path"] = *u.FilePath
	}
	if u.DurationSeconds != nil {
		set["duration_seconds"] = *u.DurationSeconds
	}
	if u.FileSize != nil {
		set["file_size"] = *u.FileSize
	}

	id, found, err := s.RecordingIDBySession(ctx, u.SessionID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no recording for session %s", u.SessionID)
	}
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return fmt.Errorf("invalid recording id %q: %w", id, err)
	}

	if _, err := s.recordings.UpdateByID(ctx, oid, bson.M{"$set": set}); err != nil {
		return s.failed("update recording", err)
	}
	return nil
}

func (s *MongoStore) SaveActivity(ctx context.Context, a Activity) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if _, err := s.activity.InsertOne(ctx, a); err != nil {
		return s.failed("insert activity", err)
	}
	return nil
}

// RecordingIDBySession returns the newest recording for the session.
func (s *MongoStore) RecordingIDBySession(ctx context.Context, sessionID string) (RecordingID, bool, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetProjection(bson.M{"_id": 1})

	var doc struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	err := s.recordings.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.failed("find recording", err)
	}
	return RecordingID(doc.ID.Hex()), true, nil
}

func (s *MongoStore) SaveNetworkUsage(ctx context.Context, n NetworkUsage) error {
	if n.RecordedAt.IsZero() {
		n.RecordedAt = time.Now()
	}
	if _, err := s.network.InsertOne(ctx, n); err != nil {
		return s.failed("insert network usage", err)
	}
	return nil
}

// UpdateProcessStatus keeps a single status document.
func (s *MongoStore) UpdateProcessStatus(ctx context.Context, p ProcessStatus) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	opts := options.Update().SetUpsert(true)
	update := bson.M{"$set": p}
	if _, err := s.status.UpdateOne(ctx, bson.M{"_id": "current"}, update, opts); err != nil {
		return s.failed("update process status", err)
	}
	return nil
}

func (s *MongoStore) AddExcludedWindow(ctx context.Context, title string) error {
	opts := options.Update().SetUpsert(true)
	update := bson.M{"$setOnInsert": ExcludedWindow{Title: title, CreatedAt: time.Now()}}
	if _, err := s.excluded.UpdateOne(ctx, bson.M{"window_title": title}, update, opts); err != nil {
		return s.failed("add excluded window", err)
	}
	return nil
}

func (s *MongoStore) RemoveExcludedWindow(ctx context.Context, title string) error {
	if _, err := s.excluded.DeleteOne(ctx, bson.M{"window_title": title}); err != nil {
		return s.failed("remove excluded window", err)
	}
	return nil
}

func (s *MongoStore) ExcludedWindows(ctx context.Context) ([]string, error) {
	cursor, err := s.excluded.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list excluded windows: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []ExcludedWindow
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode excluded windows: %w", err)
	}
	titles := make([]string, 0, len(docs))
	for _, d := range docs {
		titles = append(titles, d.Title)
	}
	return titles, nil
}

func (s *MongoStore) ListRecordings(ctx context.Context, limit int64) ([]Recording, error) {
	var out []Recording
	if err := s.findNewest(ctx, s.recordings, bson.M{}, "created_at", limit, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ListScreenshots(ctx context.Context, sessionID string, limit int64) ([]Screenshot, error) {
	filter := bson.M{}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}
	var out []Screenshot
	if err := s.findNewest(ctx, s.screenshots, filter, "created_at", limit, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ListActivity(ctx context.Context, limit int64) ([]Activity, error) {
	var out []Activity
	if err := s.findNewest(ctx, s.activity, bson.M{}, "timestamp", limit, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ListNetworkUsage(ctx context.Context, limit int64) ([]NetworkUsage, error) {
	var out []NetworkUsage
	if err := s.findNewest(ctx, s.network, bson.M{}, "recorded_at", limit, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) findNewest(ctx context.Context, coll *mongo.Collection, filter bson.M, sortField string, limit int64, out interface{}) error {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}}).SetLimit(limit)

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", coll.Name(), err)
	}
	return nil
}
