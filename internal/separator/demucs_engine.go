package separator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/stemmix/api/internal/config"
	"github.com/stemmix/api/internal/wav"
)

// DemucsEngine shells out to a local demucs binary. The mix is written to a
// temp WAV, demucs splits it into a model/track output tree, and the four
// stem WAVs are decoded back.
type DemucsEngine struct {
	bin string
	readiness
}

// NewDemucsEngine creates an engine around the configured binary.
func NewDemucsEngine(cfg *config.SeparatorConfig) *DemucsEngine {
	bin := cfg.DemucsBin
	if bin == "" {
		bin = "demucs"
	}
	return &DemucsEngine{bin: bin}
}

// EnsureReady checks the binary is resolvable.
func (e *DemucsEngine) EnsureReady(ctx context.Context) error {
	return e.ensure(ctx, func(context.Context) error {
		if _, err := exec.LookPath(e.bin); err != nil {
			return fmt.Errorf("demucs not found in PATH (or via separator.demucs_bin): %w", err)
		}
		return nil
	})
}

// Separate runs one demucs invocation in a scratch directory.
func (e *DemucsEngine) Separate(ctx context.Context, left, right []float64, sampleRate int) (*StemSet, error) {
	if err := e.EnsureReady(ctx); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "stemmix-demucs-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
	defer os.RemoveAll(workDir)

	inPath := filepath.Join(workDir, "mix.wav")
	if err := os.WriteFile(inPath, wav.EncodeContainer(left, right, sampleRate), 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}

	outRoot := filepath.Join(workDir, "out")
	cmd := exec.CommandContext(ctx, e.bin, "-o", outRoot, inPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: demucs: %v, output %s", ErrEngineFailed, err, string(output))
	}

	// demucs writes out/<model>/<track>/<stem>.wav
	modelDir, err := findSingleChildDir(outRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: demucs output not found: %v", ErrEngineFailed, err)
	}
	trackDir, err := findSingleChildDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("%w: demucs track dir not found: %v", ErrEngineFailed, err)
	}

	set := &StemSet{}
	for _, entry := range []struct {
		file string
		dst  *Stem
	}{
		{"drums.wav", &set.Drums},
		{"bass.wav", &set.Bass},
		{"other.wav", &set.Other},
		{"vocals.wav", &set.Vocals},
	} {
		stem, err := e.readStem(filepath.Join(trackDir, entry.file), sampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrEngineFailed, entry.file, err)
		}
		*entry.dst = stem
	}

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
	return set, nil
}

func (e *DemucsEngine) readStem(path string, wantRate int) (Stem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stem{}, err
	}
	left, right, rate, err := wav.DecodeContainer(data)
	if err != nil {
		return Stem{}, err
	}
	if rate != wantRate {
		// demucs keeps the input rate, so a mismatch means a bad invocation
		// rather than audio to be resampled.
		return Stem{}, fmt.Errorf("stem sample rate %d, want %d", rate, wantRate)
	}
	return Stem{Left: left, Right: right}, nil
}

func findSingleChildDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(root, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("no subdirectory under %s", root)
}
