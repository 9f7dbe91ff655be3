package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	zarr "github.com/qri-io/zarr-go"

	"github.com/CSSFrancis/spyde-sub000/api"
	"github.com/CSSFrancis/spyde-sub000/internal/config"
	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/dataset/storage/sqlite"
	"github.com/CSSFrancis/spyde-sub000/internal/nav"
	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
	"github.com/CSSFrancis/spyde-sub000/internal/version"
)

var (
	listen     = flag.String("listen", "", "HTTP listen address (default from config)")
	configPath = flag.String("config", "", "Path to pipeline config JSON")
	zarrDir    = flag.String("zarr", "", "Path to a zarr array directory (default: synthesize a dataset in memory)")
	zarrName   = flag.String("zarr-name", "signal", "Array name inside the zarr directory")
	navShape   = flag.String("nav-shape", "32,32", "Navigation shape, comma separated")
	sigShape   = flag.String("sig-shape", "16,16", "Signal (detector) shape, comma separated")
	replay     = flag.Int("replay", 0, "Replay N scripted navigation moves, then keep serving")
)

// parseShape turns "32,32" into []int{32, 32}.
func parseShape(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid shape component %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func prod(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// synthesizeStore writes a diffraction-flavored test dataset: each frame is a
// radial pattern whose intensity drifts with the navigation position.
func synthesizeStore(navShape, sigShape []int) (zarr.Store, error) {
	if len(sigShape) != 2 {
		return nil, fmt.Errorf("synthesized datasets need a 2D signal shape, got %v", sigShape)
	}
	frames := prod(navShape)
	h, w := sigShape[0], sigShape[1]
	data := make([]float64, frames*h*w)
	for f := 0; f < frames; f++ {
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				dr := float64(r - h/2)
				dc := float64(c - w/2)
				radius := math.Sqrt(dr*dr + dc*dc)
				data[f*h*w+r*w+c] = math.Exp(-radius/4) * (1 + 0.1*float64(f))
			}
		}
	}
	arr, err := ndarray.FromData(data, frames, h*w)
	if err != nil {
		return nil, err
	}
	store := zarr.NewMemoryStore()
	if err := dataset.WriteZarrArray(store, *zarrName, arr, [2]int{64, h * w}); err != nil {
		return nil, err
	}
	return store, nil
}

func main() {
	flag.Parse()
	log.Printf("spyde %s (%s)", version.Version, version.GitSHA)

	cfg := config.EmptyPipelineConfig()
	if *configPath != "" {
		loaded, err := config.LoadPipelineConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	listenAddr := *listen
	if listenAddr == "" {
		listenAddr = cfg.GetHTTPListen()
	}

	navDims, err := parseShape(*navShape)
	if err != nil {
		log.Fatalf("Invalid -nav-shape: %v", err)
	}
	sigDims, err := parseShape(*sigShape)
	if err != nil {
		log.Fatalf("Invalid -sig-shape: %v", err)
	}

	// Open the dataset.
	var store zarr.Store
	if *zarrDir != "" {
		local, err := zarr.NewLocalStore(*zarrDir)
		if err != nil {
			log.Fatalf("Failed to open zarr store at %s: %v", *zarrDir, err)
		}
		store = local
		log.Printf("Opened zarr store at %s", *zarrDir)
	} else {
		store, err = synthesizeStore(navDims, sigDims)
		if err != nil {
			log.Fatalf("Failed to synthesize dataset: %v", err)
		}
		log.Printf("Synthesized in-memory dataset nav=%v sig=%v", navDims, sigDims)
	}
	source, err := dataset.OpenZarrSource(store, *zarrName, navDims, sigDims)
	if err != nil {
		log.Fatalf("Failed to open zarr array %q: %v", *zarrName, err)
	}

	exec := dataset.NewExecutor(cfg.GetExecutorWorkers(), nil)
	defer exec.Close()

	var chunkStore dataset.ChunkStore
	if path := cfg.GetChunkStorePath(); path != "" {
		cs, err := sqlite.Open(path)
		if err != nil {
			log.Fatalf("Failed to open chunk store at %s: %v", path, err)
		}
		defer cs.Close()
		chunkStore = cs
		log.Printf("Persistent chunk store at %s", path)
	}

	root, err := dataset.NewSignal(dataset.SignalConfig{
		Name:      "signal",
		NavShape:  navDims,
		SigShape:  sigDims,
		Source:    source,
		Executor:  exec,
		CacheSize: cfg.GetChunkCacheSize(),
		Store:     chunkStore,
	})
	if err != nil {
		log.Fatalf("Failed to build root signal: %v", err)
	}
	tree := dataset.NewSignalTree(root, nil)

	log.Printf("Deriving navigator image (%d frames)...", prod(navDims))
	navigator, err := tree.DeriveNavigator()
	if err != nil {
		log.Fatalf("Failed to derive navigator: %v", err)
	}

	// Wire the pipeline: a selector on the navigator surface drives the
	// signal surface.
	m := nav.NewManager(nav.ManagerConfig{DebounceDelay: cfg.GetDebounceDelay()})
	navSurf := m.AddSurface("navigator", navDims)
	sigSurf := m.AddSurface("signal", sigDims)

	sigConsumer, err := m.AddConsumer(nav.ConsumerConfig{
		Surface: sigSurf,
		Dims:    2,
		Shape:   sigDims,
		Update:  nav.NavigationUpdate(root),
		Render: func(c *nav.Consumer) {
			log.Printf("signal surface updated (state=%s)", c.State())
		},
	})
	if err != nil {
		log.Fatalf("Failed to add signal consumer: %v", err)
	}
	selector, err := m.AddSelector(nav.SelectorConfig{
		Surface:   navSurf,
		Geometry:  nav.PointGeometry{Coords: make([]int, len(navDims))},
		Consumers: []nav.ConsumerID{sigConsumer},
	})
	if err != nil {
		log.Fatalf("Failed to add selector: %v", err)
	}
	log.Printf("Navigator %q ready, selector %s on %s", navigator.Name, selector, navSurf)

	m.Run()
	defer m.Stop()
	poller := nav.NewPoller(m, cfg.GetPollInterval(), nil)
	poller.Run()
	defer poller.Stop()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *replay > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replayNavigation(ctx, m, selector, navDims, *replay)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(m, tree).ServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status": "ok", "service": "spyde", "version": "%s", "timestamp": "%s"}`,
				version.Version, time.Now().UTC().Format(time.RFC3339))
		})

		server := &http.Server{
			Addr:    listenAddr,
			Handler: mux,
		}

		go func() {
			log.Printf("Starting HTTP server on %s", listenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// replayNavigation walks the selector across the navigation space like a
// scripted drag, exercising the debounce/fetch/poll/apply path end to end.
func replayNavigation(ctx context.Context, m *nav.Manager, sel nav.SelectorID, navDims []int, moves int) {
	log.Printf("Replaying %d navigation moves", moves)
	for i := 0; i < moves; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
		coords := make([]int, len(navDims))
		for d := range coords {
			coords[d] = (i * (d + 1)) % navDims[d]
		}
		if err := m.SetGeometry(sel, nav.PointGeometry{Coords: coords}); err != nil {
			log.Printf("replay move %d: %v", i, err)
			return
		}
	}
	// Settle the final position so the last frame is definitely applied.
	if err := m.ForceUpdate(sel, true); err != nil {
		log.Printf("replay settle: %v", err)
		return
	}
	log.Printf("Replay complete: %+v", m.Stats().Snapshot())
}
