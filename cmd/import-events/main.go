package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/lib/pq" // PostgreSQL driver

	"pulse/internal/config"
	"pulse/internal/ingestion"
	"pulse/internal/logger"
	"pulse/internal/storage"
	"pulse/pkg/bootstrap"
	"pulse/pkg/logging"
	"pulse/pkg/models"
)

var (
	configFile string
	inputFile  string
	chunkSize  int
)

const defaultChunkSize = 500

func main() {
	rootCmd := &cobra.Command{
		Use:   "import-events",
		Short: "Bulk CSV importer for the event analytics pipeline",
		Long:  "Reads events from a CSV file and submits them in chunks through the same admission contract as the gateway",
		RunE:  runImport,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.Flags().StringVar(&inputFile, "file", "", "Path to the CSV file (required)")
	rootCmd.Flags().IntVar(&chunkSize, "chunk-size", defaultChunkSize, "Events submitted per batch")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return fmt.Errorf("config file is required")
		}
	}
	if inputFile == "" {
		earlyLog.Error("Input file is required. Use --file flag")
		return fmt.Errorf("input file is required")
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return err
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return err
	}
	defer log.Sync()
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("import-events")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	base := bootstrap.NewBase(cfg, log)
	dbConnector := bootstrap.NewDatabaseConnector(cfg, log)

	rdb, err := dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	db, err := dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if err := base.InitProducer(); err != nil {
		return err
	}

	defer func() {
		if err := base.Shutdown(ctx, func(ctx context.Context) []error {
			return dbConnector.ShutdownDatabases(ctx, rdb, db, nil)
		}); err != nil {
			log.Errorw("Shutdown error", "error", err)
		}
	}()

	var repo ingestion.Repository = ingestion.NewRepository(rdb)
	if cfg.CircuitBreaker.Enabled {
		repo = ingestion.NewCircuitBreakerRepository(repo, cfg.CircuitBreaker)
	}

	var store storage.Repository
	if db != nil {
		store = storage.NewRepository(db)
	}

	svc := ingestion.NewService(
		repo,
		base.Producer,
		store,
		cfg.Ingestion,
		cfg.Broker.Kafka.EventsTopic,
		log,
	)
	defer svc.StopCacheMetricsUpdater()

	totals, err := importFile(ctx, svc, log)
	if err != nil {
		return err
	}

	fmt.Printf("admitted: %d\nduplicates: %d\ninvalid: %d\ntotal: %d\n",
		totals.Admitted, totals.Duplicates, totals.Invalid, totals.Total())
	return nil
}

// importFile streams the CSV and submits chunks through the normal admission
// contract. Malformed rows become invalid dispositions via the validator and
// never abort the file.
func importFile(ctx context.Context, svc *ingestion.Service, log logger.Logger) (*models.IngestionResult, error) {
	f, err := os.Open(inputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", inputFile, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	// Header row: event_id,user_id,event_type,occurred_at,properties_json
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	totals := &models.IngestionResult{Dispositions: map[string]string{}}
	chunk := make([]models.EventCandidate, 0, chunkSize)
	line := 1

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		result, err := svc.IngestBatch(ctx, models.IngestionBatch{Events: chunk})
		if err != nil {
			return fmt.Errorf("batch at line %d failed: %w", line, err)
		}
		totals.Admitted += result.Admitted
		totals.Duplicates += result.Duplicates
		totals.Invalid += result.Invalid
		chunk = chunk[:0]
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			log.Warnw("Skipping unreadable CSV row", "line", line, "error", err)
			totals.Invalid++
			continue
		}

		chunk = append(chunk, candidateFromRecord(record))

		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return totals, nil
}

func candidateFromRecord(record []string) models.EventCandidate {
	get := func(i int) string {
		if i < len(record) {
			return record[i]
		}
		return ""
	}

	candidate := models.EventCandidate{
		EventID:    get(0),
		UserID:     get(1),
		EventType:  get(2),
		OccurredAt: get(3),
	}

	if raw := get(4); raw != "" {
		var properties map[string]interface{}
		// A row with broken properties JSON still carries a usable event;
		// properties are dropped rather than the whole row.
		if err := json.Unmarshal([]byte(raw), &properties); err == nil {
			candidate.Properties = properties
		}
	}

	return candidate
}
