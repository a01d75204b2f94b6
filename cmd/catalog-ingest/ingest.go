package main

import (
	"bufio"
	"context"
	"math"
	"math/bits"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-register/internal/domain/product"
)

// maxFiles is bounded by the width of the per-code file bitmask.
const maxFiles = bits.UintSize

var errBadRow = errors.New("malformed row")

// parseRow parses one "code<TAB>name<TAB>price" line.
func parseRow(line string) (product.Product, error) {
	code, rest, ok := strings.Cut(line, "\t")
	if !ok {
		return product.Product{}, errBadRow
	}
	name, priceStr, ok := strings.Cut(rest, "\t")
	if !ok {
		return product.Product{}, errBadRow
	}

	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if !validCode(code) {
		return product.Product{}, errors.Wrapf(errBadRow, "code %q", code)
	}
	if name == "" || utf8.RuneCountInString(name) > product.MaxNameLen {
		return product.Product{}, errors.Wrapf(errBadRow, "name of %s", code)
	}
	price, err := strconv.ParseInt(strings.TrimSpace(priceStr), 10, 64)
	if err != nil || price < 0 || price > math.MaxInt32 {
		return product.Product{}, errors.Wrapf(errBadRow, "price of %s", code)
	}
	return product.Product{Code: code, Name: name, Price: price}, nil
}

// validCode accepts 1..13 ASCII digits, the JAN/EAN scan code alphabet.
func validCode(code string) bool {
	if code == "" || len(code) > product.CodeLen {
		return false
	}
	for _, c := range []byte(code) {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// codeOf extracts the trimmed code column without parsing the whole row.
func codeOf(line string) (string, bool) {
	code, _, ok := strings.Cut(line, "\t")
	code = strings.TrimSpace(code)
	return code, ok && validCode(code)
}

// buildFilters creates one bloom filter of scan codes per file, concurrently.
func buildFilters(ctx context.Context, lg *zap.Logger, files []string, capacity uint, fpr float64) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f := bloom.NewWithEstimates(capacity, fpr)
			var n uint64
			err := streamLines(ctx, path, func(line string) error {
				if code, ok := codeOf(line); ok {
					f.AddString(code)
					n++
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			lg.Info("Indexed file", zap.String("file", path), zap.Uint64("codes", n))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findConflicts returns the codes present in two or more files. Bloom hits
// only nominate candidates; a code counts once both files really hold it.
func findConflicts(ctx context.Context, lg *zap.Logger, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	found := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamLines(ctx, path, func(line string) error {
				code, ok := codeOf(line)
				if !ok {
					return nil
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						break
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			lg.Debug("Scanned file for shared codes", zap.String("file", path), zap.Int("candidates", len(candidates)))
			found[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, m := range found {
		for code, mask := range m {
			merged[code] |= mask
		}
	}
	conflicts := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			conflicts[code] = struct{}{}
		}
	}
	return conflicts, nil
}

// upsertFunc writes one batch of products and returns the rows affected.
type upsertFunc func(ctx context.Context, batch []product.Product) (int64, error)

type loadStats struct {
	Rows      int
	Invalid   int
	Conflicts int
	Written   int64
}

// loadProducts streams every file and upserts the non-conflicting rows in
// batches. Files are processed in order so later files win for codes
// repeated within one file.
func loadProducts(
	ctx context.Context,
	lg *zap.Logger,
	files []string,
	conflicts map[string]struct{},
	batchSize int,
	upsert upsertFunc,
) (loadStats, error) {
	var (
		stats loadStats
		batch = make([]product.Product, 0, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := upsert(ctx, batch)
		if err != nil {
			return err
		}
		stats.Written += n
		batch = batch[:0]
		return nil
	}

	for _, path := range files {
		err := streamLines(ctx, path, func(line string) error {
			if strings.TrimSpace(line) == "" {
				return nil
			}
			stats.Rows++
			p, err := parseRow(line)
			if err != nil {
				stats.Invalid++
				lg.Debug("Skipping row", zap.String("file", path), zap.Error(err))
				return nil
			}
			if _, ok := conflicts[p.Code]; ok {
				stats.Conflicts++
				return nil
			}
			batch = append(batch, p)
			if len(batch) >= batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return stats, errors.Wrapf(err, "load %s", path)
		}
	}
	if err := flush(); err != nil {
		return stats, errors.Wrap(err, "load final batch")
	}
	return stats, nil
}

// streamLines calls fn for every line of a gzip-compressed file.
func streamLines(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
