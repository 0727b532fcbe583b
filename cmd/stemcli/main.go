// Command stemcli inspects and maintains a local stem catalog without going
// through the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/config"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/pipeline"
	"github.com/stemmix/api/internal/separator"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/internal/wav"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	good    = color.New(color.FgGreen)
	bad     = color.New(color.FgRed)
)

func main() {
	dataDir := flag.String("data", "./data", "catalog data directory")
	quota := flag.Int64("quota", 0, "storage quota in bytes (0 = unlimited)")
	engineKind := flag.String("engine", "http", "separation engine: http or demucs")
	engineURL := flag.String("engine-url", "http://localhost:8084", "separation service URL (http engine)")
	demucsBin := flag.String("demucs-bin", "demucs", "demucs binary path (demucs engine)")
	title := flag.String("title", "", "song title for process")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "probe":
		err = probe(args[1:])
	case "engine":
		err = engineStatus(buildEngine(*engineKind, *engineURL, *demucsBin))
	case "process":
		if len(args) != 2 {
			err = fmt.Errorf("usage: stemcli process <file.wav>")
			break
		}
		err = withStore(*dataDir, *quota, func(st *store.Store) error {
			return process(st, buildEngine(*engineKind, *engineURL, *demucsBin), args[1], *title)
		})
	case "list":
		err = withStore(*dataDir, *quota, list)
	case "rename":
		if len(args) != 3 {
			err = fmt.Errorf("usage: stemcli rename <id> <title>")
			break
		}
		err = withStore(*dataDir, *quota, func(st *store.Store) error {
			return st.Rename(args[1], args[2])
		})
	case "delete":
		if len(args) != 2 {
			err = fmt.Errorf("usage: stemcli delete <id>")
			break
		}
		err = withStore(*dataDir, *quota, func(st *store.Store) error {
			return st.Delete(args[1])
		})
	case "usage":
		err = withStore(*dataDir, *quota, storageUsage)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		bad.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `stemcli: stem catalog maintenance

usage:
  stemcli [flags] probe <file.wav>      validate a container and print its shape
  stemcli [flags] engine                check separation engine readiness
  stemcli [flags] process <file.wav>    separate a container into the catalog
  stemcli [flags] list                  list catalog entries
  stemcli [flags] rename <id> <title>   rename an entry
  stemcli [flags] delete <id>           delete an entry and free its storage
  stemcli [flags] usage                 show storage usage

flags:`)
	flag.PrintDefaults()
}

func withStore(dataDir string, quota int64, fn func(*store.Store) error) error {
	st, err := store.NewStore(dataDir, quota)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func probe(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stemcli probe <file.wav>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	left, _, rate, err := wav.DecodeContainer(data)
	if err != nil {
		return err
	}

	heading.Println(args[0])
	good.Printf("  valid PCM container\n")
	fmt.Printf("  sample rate: %d Hz\n", rate)
	fmt.Printf("  samples:     %d per channel\n", len(left))
	fmt.Printf("  duration:    %.2fs\n", wav.Duration(len(left), rate))
	if rate != audio.SampleRate {
		fmt.Printf("  note: will be resampled to %d Hz on ingest\n", audio.SampleRate)
	}
	return nil
}

func list(st *store.Store) error {
	songs, err := st.List()
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		fmt.Println("catalog is empty")
		return nil
	}

	heading.Printf("%-38s %-30s %8s %10s\n", "ID", "TITLE", "LENGTH", "SIZE")
	for _, s := range songs {
		fmt.Printf("%-38s %-30s %7.1fs %9.1fM\n",
			s.ID, truncate(s.Title, 30), s.DurationSeconds, float64(s.SizeBytes)/(1<<20))
	}
	return nil
}

func storageUsage(st *store.Store) error {
	used, err := st.Usage()
	if err != nil {
		return err
	}
	fmt.Printf("used:  %.1f MB\n", float64(used)/(1<<20))
	if q := st.Quota(); q > 0 {
		fmt.Printf("quota: %.1f MB (%.0f%%)\n", float64(q)/(1<<20), 100*float64(used)/float64(q))
	} else {
		fmt.Println("quota: unlimited")
	}
	return nil
}

func buildEngine(kind, serviceURL, demucsBin string) separator.Engine {
	cfg := &config.SeparatorConfig{
		Engine:     kind,
		ServiceURL: serviceURL,
		Timeout:    600,
		DemucsBin:  demucsBin,
	}
	if kind == "demucs" {
		return separator.NewDemucsEngine(cfg)
	}
	return separator.NewHTTPEngine(cfg)
}

func engineStatus(engine separator.Engine) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := engine.EnsureReady(ctx); err != nil {
		bad.Printf("engine: %s\n", engine.State())
		return err
	}
	good.Printf("engine: %s\n", engine.State())
	return nil
}

// process runs the full pipeline against a local container, without the
// server or the job queue.
func process(st *store.Store, engine separator.Engine, path, title string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if title == "" {
		title = filepath.Base(path)
	}

	// The orchestrator removes the staged file on success, so the input is
	// copied out of the way first.
	staged := filepath.Join(os.TempDir(), uuid.New().String()+".wav")
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return fmt.Errorf("stage input: %w", err)
	}
	defer os.Remove(staged)

	orch := pipeline.NewOrchestrator(nil, engine, st)
	orch.SetObserver(func(stage model.Stage, progress int) {
		if stage == model.StageIdle {
			return
		}
		fmt.Printf("  %-12s %3d%%\n", stage, progress)
	})

	songID, err := orch.Run(context.Background(), &model.ProcessJobPayload{
		Kind:       model.SourceLocalUpload,
		Title:      title,
		UploadPath: staged,
	})
	if err != nil {
		return err
	}
	good.Printf("saved %s\n", songID)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
