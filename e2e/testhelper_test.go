package e2e

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/auth"
	"github.com/stemmix/api/internal/handler"
	"github.com/stemmix/api/internal/middleware"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/pipeline"
	"github.com/stemmix/api/internal/service"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/internal/stream"
	"github.com/stemmix/api/internal/syncer"
	"github.com/stemmix/api/internal/wav"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	store *store.Store
	redis *redis.Client
}

// setupApp creates a Fiber app wired like main.go but against a throwaway
// data directory and without external services.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis on localhost; queue-backed endpoints skip when it is absent.
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	st, err := store.NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	broadcaster := stream.NewBroadcaster()
	syncController := syncer.NewController(time.Hour, 50*time.Millisecond, 2*time.Second)

	registry := pipeline.NewRegistry()
	jobService := service.NewJobService(redisClient, asynqClient, registry, t.TempDir())
	songService := service.NewSongService(st)
	mixerService := service.NewMixerService(st, broadcaster, syncController)
	exportService := service.NewExportService(st, nil, nil, t.TempDir())
	t.Cleanup(mixerService.Unload)

	songHandler := handler.NewSongHandler(songService, jobService, validate)
	jobHandler := handler.NewJobHandler(jobService)
	mixerHandler := handler.NewMixerHandler(mixerService, validate)
	syncHandler := handler.NewSyncHandler(mixerService, validate)
	exportHandler := handler.NewExportHandler(exportService, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 250 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	songs := api.Group("/songs")
	songs.Post("/upload", rateLimiter.UploadLimit(10000), songHandler.Upload)
	songs.Post("/remote", rateLimiter.RemoteLimit(10000), songHandler.Remote)
	songs.Get("/", songHandler.List)
	songs.Get("/:id", songHandler.Get)
	songs.Patch("/:id", songHandler.Rename)
	songs.Delete("/:id", songHandler.Delete)
	api.Get("/storage", songHandler.Storage)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	mixerGroup := api.Group("/mixer", rateLimiter.MixerLimit(10000))
	mixerGroup.Post("/load", mixerHandler.Load)
	mixerGroup.Post("/unload", mixerHandler.Unload)
	mixerGroup.Get("/", mixerHandler.State)
	mixerGroup.Put("/tracks/:stem", mixerHandler.UpdateTrack)
	mixerGroup.Put("/pitch", mixerHandler.Pitch)
	mixerGroup.Put("/master", mixerHandler.Master)
	mixerGroup.Post("/transport", mixerHandler.Transport)

	syncGroup := api.Group("/sync")
	syncGroup.Post("/bind", syncHandler.Bind)
	syncGroup.Post("/unbind", syncHandler.Unbind)
	syncGroup.Post("/clock", syncHandler.Clock)
	syncGroup.Get("/", syncHandler.State)

	api.Post("/export", rateLimiter.ExportLimit(10000), exportHandler.Export)

	return &testApp{app: app, store: st, redis: redisClient}
}

// requireRedis skips the test when no local redis answers.
func (ta *testApp) requireRedis(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ta.redis.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
}

// seedSong persists one fixture song and returns its ID.
func (ta *testApp) seedSong(t *testing.T, title string) string {
	t.Helper()

	n := audio.SampleRate / 2
	left := make([]float64, n)
	right := make([]float64, n)
	for i := range left {
		left[i] = 0.25 * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate)
		right[i] = left[i]
	}
	stem := wav.Compress(left, right)

	rec := &model.SongRecord{
		ID:              uuid.New().String(),
		Title:           title,
		SourceKind:      model.SourceLocalUpload,
		DurationSeconds: 0.5,
		SampleRate:      audio.SampleRate,
		CreatedAt:       time.Now(),
		Tracks: model.TrackSet{
			Drums:  stem,
			Bass:   stem,
			Other:  stem,
			Vocals: stem,
		},
	}
	if err := ta.store.Save(rec); err != nil {
		t.Fatalf("failed to seed song: %v", err)
	}
	return rec.ID
}

// generateToken creates a signed bearer token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.IssueToken(testJWTSecret, "test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
