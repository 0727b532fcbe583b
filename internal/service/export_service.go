package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/client"
	"github.com/stemmix/api/internal/mixer"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/internal/wav"
)

const exportExpiry = 24 * time.Hour

// ExportService bounces a song offline with static mix settings and hands
// the result to object storage, routing non-WAV formats through the
// encoding service first.
type ExportService struct {
	store     *store.Store
	storage   client.StorageClient // nil when R2 is not configured
	encoder   client.MediaEncoder  // nil when the encoder is not configured
	exportDir string
}

func NewExportService(st *store.Store, storage client.StorageClient, encoder client.MediaEncoder, exportDir string) *ExportService {
	return &ExportService{
		store:     st,
		storage:   storage,
		encoder:   encoder,
		exportDir: exportDir,
	}
}

// Export runs one offline bounce.
func (s *ExportService) Export(ctx context.Context, req *model.ExportRequest) (*model.ExportResponse, error) {
	song, err := s.store.Get(req.SongID)
	if err != nil {
		return nil, err
	}

	left, right, err := mixer.Bounce(song, &req.Mix)
	if err != nil {
		return nil, fmt.Errorf("bounce failed: %w", err)
	}
	container := wav.EncodeContainer(left, right, audio.SampleRate)

	name := fmt.Sprintf("%s-%s.wav", song.ID, uuid.New().String()[:8])

	if s.storage == nil {
		if req.Format != model.ExportWAV {
			return nil, errors.New("only wav export is available without object storage")
		}
		return s.exportLocal(name, container)
	}

	key := "exports/" + name
	wavURL, err := s.storage.Upload(ctx, key, bytes.NewReader(container), "audio/wav")
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	if req.Format == model.ExportWAV {
		signed, err := s.storage.GetSignedURL(ctx, key, exportExpiry)
		if err != nil {
			signed = wavURL
		}
		return &model.ExportResponse{
			FileURL:   signed,
			Format:    model.ExportWAV,
			Size:      int64(len(container)),
			ExpiresAt: time.Now().Add(exportExpiry),
		}, nil
	}

	if s.encoder == nil {
		return nil, fmt.Errorf("encoder service not configured, cannot export %s", req.Format)
	}

	encoded, err := s.encoder.Encode(ctx, &client.EncodeRequest{
		InputURL:   wavURL,
		Format:     string(req.Format),
		SampleRate: audio.SampleRate,
		Metadata:   map[string]string{"title": song.Title},
		OutputKey:  "exports/" + song.ID + "-" + uuid.New().String()[:8] + "." + string(req.Format),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding failed: %w", err)
	}

	return &model.ExportResponse{
		FileURL:   encoded.OutputURL,
		Format:    req.Format,
		Size:      encoded.Size,
		ExpiresAt: time.Now().Add(exportExpiry),
	}, nil
}

// exportLocal writes the container under the export dir, served as a static
// file.
func (s *ExportService) exportLocal(name string, container []byte) (*model.ExportResponse, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.exportDir, name), container, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	return &model.ExportResponse{
		FileURL:   "/exports/" + name,
		Format:    model.ExportWAV,
		Size:      int64(len(container)),
		ExpiresAt: time.Now().Add(exportExpiry),
	}, nil
}
