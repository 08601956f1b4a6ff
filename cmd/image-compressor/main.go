package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"image-compressor-go/internal/client"
	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/session"
	"image-compressor-go/internal/source"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	modeLocal  = "local"
	modeServer = "server"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   = "dev"
	buildTime string
	port      int

	mode       string
	outputPath string
	percent    int
	quality    int
	serverURL  string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-compressor",
	Short: "Resize and re-encode images as JPEG",
	Long: `Image Compressor shrinks images by scaling them to a percentage of their
original size and re-encoding them as JPEG at a chosen quality.

Images can come from a local file or an http(s) URL and can be compressed
either locally or by a compression server (see "serve").`,
	SilenceUsage: true,
	Version:      version,
}

// compressCmd compresses one image.
var compressCmd = &cobra.Command{
	Use:   "compress <file|url>",
	Short: "Compress an image file or URL",
	Long: `Compresses a single image. With --mode local (the default) the image is
decoded, resized and encoded in this process. With --mode server it is sent to
the compression server configured by --server or client.endpoint.

The result is written to --output; use "-" to write to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("percent") {
			cfg.Compression.Percent = percent
		}
		if cmd.Flags().Changed("quality") {
			cfg.Compression.Quality = quality
		}
		if serverURL != "" {
			cfg.Client.Endpoint = serverURL
		}

		params := compressor.Params{Percent: cfg.Compression.Percent, Quality: cfg.Compression.Quality}
		if err := params.Validate(); err != nil {
			return err
		}

		log := setupLogger(cfg)
		return runCompress(cmd.Context(), cfg, log, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// serveCmd starts the compression server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compression server",
	Long: `Starts an HTTP server that accepts multipart POST /compress requests with
the fields percent, quality and either an image file or an image_url.

It also serves an upload page at / and JSON status at /api/status and
/api/statistics. Progress events are pushed to websocket clients on /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if port != 0 {
			cfg.Server.Port = port
		}
		return runServe(cfg)
	},
}

// inspectCmd prints what is known about an image without compressing it.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file|url>",
	Short: "Show format, dimensions and EXIF metadata of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runInspect(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	compressCmd.Flags().StringVar(&mode, "mode", modeLocal, "where to compress: local or server")
	compressCmd.Flags().StringVarP(&outputPath, "output", "o", "compressed.jpg", `output file, "-" for stdout`)
	compressCmd.Flags().IntVar(&percent, "percent", compressor.DefaultPercent, "resize percentage (1-100)")
	compressCmd.Flags().IntVar(&quality, "quality", compressor.DefaultQuality, "JPEG quality (0-100)")
	compressCmd.Flags().StringVar(&serverURL, "server", "", "compression endpoint for --mode server")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from config, 5000)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
}

// runCompress selects input in a session, runs the chosen compression path
// and writes the resulting artifact.
func runCompress(ctx context.Context, cfg *config.Config, log *logrus.Logger, input string, stdout, stderr io.Writer) error {
	filter, err := compressor.ParseFilter(cfg.Compression.Filter)
	if err != nil {
		return err
	}

	var alerts []string
	stats := statistics.NewStatistics()
	deps := session.Dependencies{
		Encoder:  compressor.NewJPEGEncoder(filter),
		Fetcher:  source.NewFetcher(cfg.Fetch.Timeout, cfg.MaxFetchBytes(), cfg.Fetch.UserAgent),
		Notifier: session.NotifierFunc(func(msg string) { alerts = append(alerts, msg) }),
		Stats:    stats,
		Logger:   log,
	}
	if mode == modeServer {
		deps.Server = client.New(cfg.Client.Endpoint, cfg.Client.Timeout, log)
	} else if mode != modeLocal {
		return fmt.Errorf("unknown mode %q (want %s or %s)", mode, modeLocal, modeServer)
	}

	sess := session.New(deps, compressor.Params{Percent: cfg.Compression.Percent, Quality: cfg.Compression.Quality})
	defer sess.Close()

	if source.IsRemote(input) {
		if err := sess.SelectURL(ctx, input); err != nil {
			return err
		}
	} else {
		if !fileExists(input) {
			return fmt.Errorf("file does not exist: %s", input)
		}
		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", input, err)
		}
		sess.SelectFile(filepath.Base(input), data)
	}

	var res *session.Result
	if mode == modeServer {
		res, err = sess.CompressServer(ctx)
	} else {
		res, err = sess.CompressLocal(ctx)
	}
	for _, msg := range alerts {
		fmt.Fprintln(stderr, msg)
	}
	if err != nil {
		return err
	}

	a, ok := sess.Current()
	if !ok || !res.Applied {
		return errors.New("compression result was discarded")
	}

	if outputPath == "-" {
		_, err = stdout.Write(a.Data)
		return err
	}
	if err := os.WriteFile(outputPath, a.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	if !quiet {
		summary := fmt.Sprintf("Wrote %s (%s, %s)", outputPath, statistics.FormatBytes(a.Size()), a.ContentType)
		// byte totals are only known when the input was a local file
		if stats.Snapshot().BytesIn > 0 {
			summary += fmt.Sprintf(", %.1f%% smaller", stats.PercentageSaved())
		}
		fmt.Fprintln(stderr, summary)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cfg *config.Config) error {
	log := setupLogger(cfg)

	filter, err := compressor.ParseFilter(cfg.Compression.Filter)
	if err != nil {
		return err
	}
	stats := statistics.NewStatistics()
	comp := compressor.NewDefaultCompressor(compressor.NewJPEGEncoder(filter), log).
		WithMaxPixels(cfg.Compression.MaxPixels)
	fetcher := source.NewFetcher(cfg.Fetch.Timeout, cfg.MaxFetchBytes(), cfg.Fetch.UserAgent)
	server := web.NewServer(cfg, log, comp, fetcher, stats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if !quiet {
		fmt.Printf("Image Compressor server started (version %s)\n", version)
		fmt.Printf("Open http://localhost:%d in your browser or POST images to /compress\n", cfg.Server.Port)
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	case <-sigChan:
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info(stats.GetSummary())
	fmt.Println("Server stopped gracefully")
	return nil
}

// runInspect prints the metadata of a local or remote image.
func runInspect(ctx context.Context, cfg *config.Config, input string, out io.Writer) error {
	var data []byte
	var err error
	if source.IsRemote(input) {
		fetcher := source.NewFetcher(cfg.Fetch.Timeout, cfg.MaxFetchBytes(), cfg.Fetch.UserAgent)
		data, err = fetcher.Fetch(ctx, input)
	} else if !fileExists(input) {
		return fmt.Errorf("file does not exist: %s", input)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return err
	}

	md, err := source.ReadMetadata(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Source:       %s\n", input)
	fmt.Fprintf(out, "Format:       %s (%s)\n", md.Format, md.ContentType)
	fmt.Fprintf(out, "Dimensions:   %dx%d\n", md.Width, md.Height)
	fmt.Fprintf(out, "Size:         %s\n", statistics.FormatBytes(md.Size))
	if !md.HasEXIF {
		fmt.Fprintln(out, "EXIF:         none")
		return nil
	}
	if md.CameraMake != "" || md.CameraModel != "" {
		fmt.Fprintf(out, "Camera:       %s %s\n", md.CameraMake, md.CameraModel)
	}
	if md.Software != "" {
		fmt.Fprintf(out, "Software:     %s\n", md.Software)
	}
	if md.Orientation != 0 {
		fmt.Fprintf(out, "Orientation:  %d\n", md.Orientation)
	}
	if md.Taken != nil {
		fmt.Fprintf(out, "Taken:        %s\n", md.Taken.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// loadConfig reads the config file named by --config, if any.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" && !fileExists(cfgFile) {
		return nil, fmt.Errorf("config file does not exist: %s", cfgFile)
	}
	return config.LoadConfig(cfgFile)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if buildTime != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
