package storage

import "context"

// Offline is the gateway used when no database is configured or the client
// could not be created. Every call reports ErrUnavailable.
type Offline struct{}

func (Offline) IsAvailable(context.Context) bool { return false }

func (Offline) SaveScreenshot(context.Context, Screenshot) error { return ErrUnavailable }

func (Offline) SaveRecording(context.Context, Recording) (RecordingID, error) {
	return "", ErrUnavailable
}

func (Offline) SaveSegment(context.Context, Segment) error { return ErrUnavailable }

func (Offline) UpdateRecordingMetadata(context.Context, RecordingUpdate) error {
	return ErrUnavailable
}

func (Offline) SaveActivity(context.Context, Activity) error { return ErrUnavailable }

func (Offline) RecordingIDBySession(context.Context, string) (RecordingID, bool, error) {
	return "", false, ErrUnavailable
}

func (Offline) SaveNetworkUsage(context.Context, NetworkUsage) error { return ErrUnavailable }

func (Offline) UpdateProcessStatus(context.Context, ProcessStatus) error { return ErrUnavailable }

func (Offline) AddExcludedWindow(context.Context, string) error { return ErrUnavailable }

func (Offline) RemoveExcludedWindow(context.Context, string) error { return ErrUnavailable }

func (Offline) ExcludedWindows(context.Context) ([]string, error) { return nil, ErrUnavailable }

func (Offline) ListRecordings(context.Context, int64) ([]Recording, error) {
	return nil, ErrUnavailable
}

func (Offline) ListScreenshots(context.Context, string, int64) ([]Screenshot, error) {
	return nil, ErrUnavailable
}

func (Offline) ListActivity(context.Context, int64) ([]Activity, error) {
	return nil, ErrUnavailable
}

func (Offline) ListNetworkUsage(context.Context, int64) ([]NetworkUsage, error) {
	return nil, ErrUnavailable
}
