// Package metrics instruments catalogs with Prometheus counters.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	cat = m.Wrap(cat)
//
// A nil *Metrics wraps nothing, so callers without metrics pass nil.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/status"
)

// Metrics holds the catalog collectors.
type Metrics struct {
	operations         *prometheus.CounterVec
	duration           *prometheus.HistogramVec
	items              *prometheus.CounterVec
	bytes              *prometheus.CounterVec
	checksumMismatches *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "brocoli_operations_total",
				Help: "Bulk catalog operations by kind, operation and result",
			},
			[]string{"kind", "op", "result"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brocoli_operation_duration_seconds",
				Help:    "Duration of bulk catalog operations",
				Buckets: []float64{0.01, 0.1, 1, 10, 60, 600},
			},
			[]string{"kind", "op"},
		),
		items: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "brocoli_items_total",
				Help: "Items of bulk operations by final state",
			},
			[]string{"kind", "op", "state"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "brocoli_bytes_transferred_total",
				Help: "Bytes moved by transfers",
			},
			[]string{"kind", "op"},
		),
		checksumMismatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "brocoli_checksum_mismatches_total",
				Help: "Transfers rejected on checksum verification",
			},
			[]string{"kind"},
		),
	}
}

// Wrap returns c instrumented with m, or c itself when m is nil.
func (m *Metrics) Wrap(c catalog.Catalog) catalog.Catalog {
	if m == nil || c == nil {
		return c
	}
	return &Catalog{Catalog: c, m: m}
}

// Catalog counts the bulk operations of the wrapped catalog.
type Catalog struct {
	catalog.Catalog
	m *Metrics
}

// Unwrap returns the instrumented catalog.
func (c *Catalog) Unwrap() catalog.Catalog {
	return c.Catalog
}

func (c *Catalog) DownloadFiles(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.observe("download_files", true, statuses, func(l *status.List) error {
		return c.Catalog.DownloadFiles(ctx, paths, destDir, l, fn)
	})
}

func (c *Catalog) DownloadDirectories(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.observe("download_directories", true, statuses, func(l *status.List) error {
		return c.Catalog.DownloadDirectories(ctx, paths, destDir, l, fn)
	})
}

func (c *Catalog) UploadFiles(ctx context.Context, localPaths []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.observe("upload_files", true, statuses, func(l *status.List) error {
		return c.Catalog.UploadFiles(ctx, localPaths, destPath, l, fn)
	})
}

func (c *Catalog) UploadDirectories(ctx context.Context, localDirs []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.observe("upload_directories", true, statuses, func(l *status.List) error {
		return c.Catalog.UploadDirectories(ctx, localDirs, destPath, l, fn)
	})
}

func (c *Catalog) DeleteFiles(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.observe("delete_files", false, statuses, func(l *status.List) error {
		return c.Catalog.DeleteFiles(ctx, paths, l, fn)
	})
}

func (c *Catalog) DeleteDirectories(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.observe("delete_directories", false, statuses, func(l *status.List) error {
		return c.Catalog.DeleteDirectories(ctx, paths, l, fn)
	})
}

// observe runs one batch on a list it can inspect afterwards. The inner
// catalog closes the list, so every item is terminal once run returns.
func (c *Catalog) observe(op string, transfer bool, statuses *status.List, run func(*status.List) error) error {
	kind := string(c.Kind())
	statuses = catalog.Batch(statuses)
	start := time.Now()

	err := run(statuses)

	c.m.duration.WithLabelValues(kind, op).Observe(time.Since(start).Seconds())
	c.m.operations.WithLabelValues(kind, op, result(err)).Inc()
	for _, st := range statuses.Statuses() {
		c.m.items.WithLabelValues(kind, op, strings.ToLower(st.State().String())).Inc()
	}
	if transfer {
		progress, _ := statuses.Totals()
		c.m.bytes.WithLabelValues(kind, op).Add(float64(progress))
	}
	if errors.Is(err, catalog.ErrChecksum) {
		c.m.checksumMismatches.WithLabelValues(kind).Inc()
	}
	return err
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	if kind := catalog.KindOf(err); kind != 0 {
		return kind.String()
	}
	return "error"
}
