// Command catalog-ingest loads supplier product master files into the catalog.
//
// Each file in the data directory is a gzip-compressed TSV with rows of
// "code<TAB>name<TAB>price". Scan codes listed by more than one supplier are
// ambiguous and skipped; everything else is upserted by code.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-register/internal/cache"
	"github.com/xenking/pos-register/internal/repository"
)

type config struct {
	DataDir     string  `default:"data" usage:"Directory containing *.tsv.gz product master files" flag:"data-dir"`
	DatabaseURL string  `usage:"PostgreSQL connection URL (or DATABASE_URL env)" flag:"database-url"`
	BatchSize   int     `default:"1000" usage:"Products per upsert batch" flag:"batch-size"`
	Capacity    uint    `default:"10000000" usage:"Expected codes per file for bloom sizing" flag:"capacity"`
	FPR         float64 `default:"0.001" usage:"Bloom filter false positive rate" flag:"fpr"`
	RedisAddr   string  `usage:"Redis address of the lookup cache to invalidate after each batch" flag:"redis-addr"`
	Verbose     bool    `default:"false" usage:"Log skipped rows" flag:"verbose"`
}

func main() {
	var cfg config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS_INGEST",
		SkipFiles: true,
	})
	if err := loader.Load(); err != nil {
		_, _ = os.Stderr.WriteString("catalog-ingest: " + err.Error() + "\n")
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	zcfg := zap.NewDevelopmentConfig()
	if !cfg.Verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	lg, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, cfg); err != nil {
		lg.Error("Catalog ingest failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Catalog ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, cfg config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	if cfg.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}

	files, err := filepath.Glob(filepath.Join(cfg.DataDir, "*.tsv.gz"))
	if err != nil {
		return errors.Wrap(err, "list data files")
	}
	sort.Strings(files)
	switch {
	case len(files) == 0:
		return errors.Errorf("no *.tsv.gz files in %s", cfg.DataDir)
	case len(files) > maxFiles:
		return errors.Errorf("%d files given, at most %d supported", len(files), maxFiles)
	}

	conflicts := map[string]struct{}{}
	if len(files) > 1 {
		lg.Info("Pass 1: indexing scan codes", zap.Int("files", len(files)))
		filters, err := buildFilters(ctx, lg, files, cfg.Capacity, cfg.FPR)
		if err != nil {
			return errors.Wrap(err, "build filters")
		}

		lg.Info("Pass 2: finding codes listed by several suppliers")
		conflicts, err = findConflicts(ctx, lg, files, filters)
		if err != nil {
			return errors.Wrap(err, "find conflicts")
		}
		lg.Info("Conflicting codes", zap.Int("count", len(conflicts)))
	}

	pool, err := repository.NewPool(ctx, repository.PoolConfig{URL: cfg.DatabaseURL}, lg)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	var writer cache.ProductWriter = repository.NewProductRepository(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		writer = cache.NewInvalidatingWriter(writer, rdb)
		lg.Info("Product cache invalidation enabled", zap.String("redis", cfg.RedisAddr))
	}

	lg.Info("Pass 3: loading products", zap.Int("batch_size", cfg.BatchSize))
	stats, err := loadProducts(ctx, lg, files, conflicts, cfg.BatchSize, writer.Upsert)
	lg.Info("Load finished",
		zap.Int("rows", stats.Rows),
		zap.Int("invalid", stats.Invalid),
		zap.Int("conflicts", stats.Conflicts),
		zap.Int64("written", stats.Written),
	)
	if err != nil {
		return errors.Wrap(err, "load products")
	}
	return nil
}
