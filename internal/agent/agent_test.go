package agent

import (
	"context"
	"testing"
	"time"

	"deskwatch/internal/config"
	"deskwatch/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderParams(t *testing.T) {
	p := EncoderParams(config.RecordingConfig{
		FrameRate: 10,
		Codec:     "libx265",
		Preset:    "veryfast",
		CRF:       30,
		Display:   ":1.0",
	})
	assert.Equal(t, 10, p.FrameRate)
	assert.Equal(t, "libx265", p.Codec)
	assert.Equal(t, "veryfast", p.Preset)
	assert.Equal(t, 30, p.CRF)
	assert.Equal(t, ":1.0", p.Display)
	assert.Equal(t, "yuv420p", p.PixelFormat)
}

func TestOpenStorageWithoutURI(t *testing.T) {
	db, gw := OpenStorage(context.Background(), config.DatabaseConfig{})
	assert.Nil(t, db)
	assert.IsType(t, storage.Offline{}, gw)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
		JWT:      config.JWTConfig{SecretKey: "secret", Expiration: time.Hour},
		Agent:    config.AgentConfig{UserID: "tester", DataDir: t.TempDir(), AdminWindowTitle: "Deskwatch Admin"},
		Screenshot: config.ScreenshotConfig{
			MinInterval: 5 * time.Minute,
			MaxInterval: 30 * time.Minute,
		},
		Recording: config.RecordingConfig{FrameRate: 15, Codec: "libx264", Preset: "ultrafast", CRF: 28, EncoderName: "ffmpeg"},
		Idle: config.IdleConfig{
			PollInterval:    5 * time.Second,
			IdleThreshold:   30 * time.Second,
			DeepThreshold:   300 * time.Second,
			PersistInterval: 1800 * time.Second,
		},
		Network:  config.NetworkConfig{SampleInterval: time.Minute},
		Security: config.SecurityConfig{CORSOrigins: []string{"*"}, RateLimit: 100, RateWindow: time.Minute},
	}
}

func TestNewWiresOfflineAgent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	st := a.Controller().Status()
	assert.Equal(t, "idle", st.State)
	assert.False(t, st.IdleDetectionActive)

	min, max := a.Controller().Interval()
	assert.Equal(t, 5, min)
	assert.Equal(t, 30, max)
}

func TestNewRejectsBadInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Screenshot.MinInterval = 40 * time.Minute
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.AutoStartIdle = true
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return a.Controller().Status().IdleDetectionActive
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not shut down")
	}
	assert.False(t, a.Controller().Status().IdleDetectionActive)
}
