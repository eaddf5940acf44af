package storage

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordingID is the hex form of a recording document id.
type RecordingID string

type ActivityKind string

const (
	ActivityActive ActivityKind = "active"
	ActivityIdle   ActivityKind = "idle"
)

type Screenshot struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	SessionID    string             `bson:"session_id" json:"session_id"`
	Filename     string             `bson:"filename" json:"filename"`
	ImageID      primitive.ObjectID `bson:"image_id,omitempty" json:"image_id,omitempty"` // GridFS file holding the PNG
	Size         int64              `bson:"size" json:"size"`
	OffsetMillis int64              `bson:"offset_ms" json:"offset_ms"` // Milliseconds since session start
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`

	Image []byte `bson:"-" json:"-"`
}

type Recording struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          string             `bson:"user_id" json:"user_id"`
	SessionID       string             `bson:"session_id" json:"session_id"`
	Filename        string             `bson:"filename" json:"filename"`
	FilePath        string             `bson:"file_path" json:"file_path"`
	DurationSeconds float64            `bson:"duration_seconds" json:"duration_seconds"`
	FileSize        int64              `bson:"file_size" json:"file_size"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

type Segment struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          string             `bson:"user_id" json:"user_id"`
	RecordingID     RecordingID        `bson:"recording_id" json:"recording_id"`
	Ordinal         int                `bson:"segment_number" json:"segment_number"`
	Filename        string             `bson:"filename" json:"filename"`
	FilePath        string             `bson:"file_path" json:"file_path"`
	DurationSeconds float64            `bson:"duration_seconds" json:"duration_seconds"`
	FileSize        int64              `bson:"file_size" json:"file_size"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
}

// RecordingUpdate changes only the fields that are set.
type RecordingUpdate struct {
	SessionID       string
	Filename        *string
	FilePath        *string
	DurationSeconds *float64
	FileSize        *int64
}

type Activity struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          string             `bson:"user_id" json:"user_id"`
	Kind            ActivityKind       `bson:"activity_type" json:"activity_type"`
	Source          string             `bson:"source" json:"source"` // "app" or "system"
	Reason          string             `bson:"reason,omitempty" json:"reason,omitempty"`
	DurationSeconds int64              `bson:"duration_seconds" json:"duration_seconds"`
	Timestamp       time.Time          `bson:"timestamp" json:"timestamp"`
}

type NetworkUsage struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          string             `bson:"user_id" json:"user_id"`
	DownloadRate    float64            `bson:"download_bytes_per_sec" json:"download_bytes_per_sec"`
	UploadRate      float64            `bson:"upload_bytes_per_sec" json:"upload_bytes_per_sec"`
	TotalDownloaded uint64             `bson:"total_downloaded" json:"total_downloaded"`
	TotalUploaded   uint64             `bson:"total_uploaded" json:"total_uploaded"`
	RecordedAt      time.Time          `bson:"recorded_at" json:"recorded_at"`
}

type ExcludedWindow struct {
	Title     string    `bson:"window_title" json:"window_title"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type ProcessStatus struct {
	RecordingActive     bool      `bson:"recording_active" json:"recording_active"`
	ScreenshotActive    bool      `bson:"screenshotting_active" json:"screenshotting_active"`
	IdleDetectionActive bool      `bson:"idle_detection_active" json:"idle_detection_active"`
	UpdatedAt           time.Time `bson:"updated_at" json:"updated_at"`
}
