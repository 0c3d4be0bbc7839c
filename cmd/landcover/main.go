package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landcover"
	"github.com/airbusgeo/landcover/log"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/google/tiff"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var stcl *storage.Client
var gcsa *osio.Adapter
var gcsOnce sync.Once
var gcsErr error

var verbose bool
var blocksize string
var numCachedBlocks int
var startTime time.Time
var runID string
var workers int

var configFile string
var catalogFile string
var catalogRoot string
var regionFile string
var seed int64

var rootCmd = &cobra.Command{
	Use:   "landcover",
	Short: "land cover classification and area statistics",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startTime = time.Now()
		if !verbose {
			os.Setenv("LOGLEVEL", "info")
			log.Structured()
		}
		if runID == "" {
			runID = uuid.New().String()
		}
		ctx := log.With(cmd.Context(), zap.String("run", runID))
		cmd.SetContext(ctx)
		godal.RegisterAll()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
			cmd.Name(), time.Since(startTime).Seconds())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&blocksize, "blocksize", "512k", "gs cache blocksize")
	rootCmd.PersistentFlags().IntVar(&numCachedBlocks, "numblocks", 1000, "number of gs cached blocks")
	rootCmd.PersistentFlags().StringVar(&runID, "runID", "", "(advanced) use predefined run identifier")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "number of concurrent workers, 0 for one per cpu")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "yaml run configuration, landsat 8 defaults if empty")
	rootCmd.PersistentFlags().StringVar(&regionFile, "region", "", "geojson region of interest, overrides the configuration")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "random forest seed, overrides the configuration")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupGCS creates the storage client and registers the gs:// handler with
// gdal on first use, so that local runs need no credentials.
func setupGCS(ctx context.Context) error {
	gcsOnce.Do(func() {
		var err error
		if stcl, err = storage.NewClient(ctx); err != nil {
			gcsErr = fmt.Errorf("storage.newclient: %w", err)
			return
		}
		gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
		if err != nil {
			gcsErr = fmt.Errorf("gcs.handle: %w", err)
			return
		}
		gcsa, err = osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numCachedBlocks))
		if err != nil {
			gcsErr = fmt.Errorf("osio.new: %w", err)
			return
		}
		if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
			gcsErr = fmt.Errorf("register osio: %w", err)
		}
	})
	return gcsErr
}

// needGCS sets up gcs access when name is a gs:// url.
func needGCS(ctx context.Context, name string) error {
	if !strings.HasPrefix(name, "gs://") {
		return nil
	}
	return setupGCS(ctx)
}

func parseGSURL(name string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(name, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%s is not a gs:// url", name)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("%s: missing bucket or object", name)
	}
	return bucket, object, nil
}

// openInput opens a local or gs:// file for random access.
func openInput(ctx context.Context, name string) (tiff.ReadAtReadSeeker, error) {
	if strings.HasPrefix(name, "gs://") {
		if err := setupGCS(ctx); err != nil {
			return nil, err
		}
		r, err := gcsa.Reader(name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		return r, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func closeInput(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close() //nolint:errcheck
	}
}

// createOutput creates a local or gs:// file.
func createOutput(ctx context.Context, name string) (io.WriteCloser, error) {
	if strings.HasPrefix(name, "gs://") {
		b, o, err := parseGSURL(name)
		if err != nil {
			return nil, fmt.Errorf("invalid dst %s: %w", name, err)
		}
		if err := setupGCS(ctx); err != nil {
			return nil, err
		}
		return stcl.Bucket(b).Object(o).NewWriter(ctx), nil
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return f, nil
}

// writeOutput creates name and fills it with fn.
func writeOutput(ctx context.Context, name string, fn func(w io.Writer) error) error {
	w, err := createOutput(ctx, name)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		w.Close() //nolint:errcheck
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	log.Logger(ctx).Info("wrote output", zap.String("file", name))
	return nil
}

func joinOutput(prefix, name string) string {
	if strings.HasPrefix(prefix, "gs://") {
		return strings.TrimSuffix(prefix, "/") + "/" + name
	}
	return filepath.Join(prefix, name)
}

func loadConfig(ctx context.Context) (landcover.Config, error) {
	cfg := landcover.DefaultConfig()
	if configFile != "" {
		r, err := openInput(ctx, configFile)
		if err != nil {
			return cfg, err
		}
		defer closeInput(r)
		if cfg, err = landcover.LoadConfig(r); err != nil {
			return cfg, fmt.Errorf("%s: %w", configFile, err)
		}
	}
	if regionFile != "" {
		cfg.Region = regionFile
	}
	if rootCmd.PersistentFlags().Changed("seed") {
		cfg.Forest.Seed = seed
	}
	return cfg, cfg.Validate()
}

func loadCatalog(ctx context.Context) (*landcover.Catalog, error) {
	r, err := openInput(ctx, catalogFile)
	if err != nil {
		return nil, err
	}
	defer closeInput(r)
	root := catalogRoot
	if root == "" {
		if strings.HasPrefix(catalogFile, "gs://") {
			root = catalogFile[:strings.LastIndex(catalogFile, "/")]
		} else {
			root = filepath.Dir(catalogFile)
		}
	}
	return landcover.ReadCatalog(r, root)
}
