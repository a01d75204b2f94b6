// Command seed-db loads a product catalog from JSON into the database.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-register/db"
	"github.com/xenking/pos-register/internal/cache"
	"github.com/xenking/pos-register/internal/domain/product"
	"github.com/xenking/pos-register/internal/repository"
)

type config struct {
	DatabaseURL  string `usage:"PostgreSQL connection URL (or DATABASE_URL env)" flag:"database-url"`
	ProductsFile string `usage:"Path to products JSON file; the built-in catalog is used when empty" flag:"products-file"`
	RedisAddr    string `usage:"Redis address of the lookup cache to invalidate" flag:"redis-addr"`
}

func main() {
	var cfg config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS_SEED",
		SkipFiles: true,
	})
	if err := loader.Load(); err != nil {
		_, _ = os.Stderr.WriteString("seed-db: " + err.Error() + "\n")
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, cfg); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, cfg config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}

	products, err := loadProducts(cfg.ProductsFile)
	if err != nil {
		return err
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
	}

	n, err := writer.Upsert(ctx, products)
	if err != nil {
		return errors.Wrap(err, "upsert products")
	}
	lg.Info("Seeded products", zap.Int("count", len(products)), zap.Int64("rows", n))
	return nil
}

func loadProducts(path string) ([]product.Product, error) {
	data := db.SeedProducts
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read products file")
		}
	}

	products, err := product.DecodeList(data)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Code = strings.TrimSpace(products[i].Code)
		if products[i].Code == "" || len(products[i].Code) > product.CodeLen {
			return nil, errors.Errorf("product %d: invalid code %q", i, products[i].Code)
		}
	}
	return products, nil
}
