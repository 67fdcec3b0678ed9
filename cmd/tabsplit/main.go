package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"tabsplit/internal/auth"
	"tabsplit/internal/receipt"
	"tabsplit/internal/scanning"
	"tabsplit/pkg/logging"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("tabsplit")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "tabsplit.db", "Database file path")
		storageType = fs.StringLong("storage", "local", "Image storage backend: 'local' or 's3'")
		storagePath = fs.StringLong("storage-path", "./receipts", "Local storage directory path")
		s3Bucket    = fs.StringLong("s3-bucket", "", "S3 bucket name (storage=s3)")
		s3Region    = fs.StringLong("s3-region", "", "S3 region (storage=s3)")
		s3Endpoint  = fs.StringLong("s3-endpoint", "", "Custom S3 endpoint, e.g. a MinIO URL (storage=s3)")
		s3PathStyle = fs.BoolLong("s3-path-style", "Use path-style S3 addressing (storage=s3)")
		s3Prefix    = fs.StringLong("s3-prefix", "", "Key prefix for stored objects (storage=s3)")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		jwtSecret   = fs.StringLong("jwt-secret", "", "Secret for verifying bearer tokens")
		tokenTTL    = fs.DurationLong("token-ttl", 30*24*time.Hour, "Lifetime of issued bearer tokens")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TABSPLIT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup()

	if *jwtSecret == "" {
		slog.Error("JWT secret is required. Set --jwt-secret flag or TABSPLIT_JWT_SECRET environment variable")
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize image storage
	var store receipt.Storage
	switch *storageType {
	case "local":
		slog.Info("Initializing local storage...", "path", *storagePath)
		store, err = receipt.NewLocalStorage(*storagePath)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
	case "s3":
		slog.Info("Initializing S3 storage...", "bucket", *s3Bucket, "region", *s3Region)
		store, err = receipt.NewS3Storage(context.Background(), receipt.S3Config{
			Region:    *s3Region,
			Bucket:    *s3Bucket,
			Endpoint:  *s3Endpoint,
			PathStyle: *s3PathStyle,
			Prefix:    *s3Prefix,
		})
		if err != nil {
			slog.Error("Failed to initialize S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid storage type", "type", *storageType, "valid", "local or s3")
		os.Exit(1)
	}

	// Initialize service and server
	tokens := auth.NewJWTManager(*jwtSecret, *tokenTTL)
	receiptService := receipt.NewService(db, scanner, store)
	server := receipt.NewServer(receiptService, tokens)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
