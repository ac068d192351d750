package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/export"
)

type Catalog interface {
	ListDefinitions(ctx context.Context) ([]catalog.Definition, error)
}

type Archive interface {
	List(ctx context.Context, queryKey string, limit int) ([]export.Export, error)
	Delete(ctx context.Context, queryKey, name string) error
}

type Config struct {
	RetentionInterval time.Duration
	// KeepExports is how many of the newest exports survive per query.
	KeepExports int
	// MaxAge prunes exports last modified before now minus MaxAge.
	MaxAge time.Duration
}

// Service prunes archived exports. An export is removed when it falls outside
// the newest KeepExports of its query or when it is older than MaxAge.
type Service struct {
	Catalog Catalog
	Exports Archive
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time
}

type RetentionSummary struct {
	QueriesScanned int `json:"queries_scanned"`
	ExportsScanned int `json:"exports_scanned"`
	ExportsDeleted int `json:"exports_deleted"`
	Failures       int `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx, "")
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "retention cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "retention cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunRetentionOnce prunes the exports of queryKey, or of every stored query
// when queryKey is empty.
func (s *Service) RunRetentionOnce(ctx context.Context, queryKey string) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return RetentionSummary{}, fmt.Errorf("catalog is required")
	}
	if s.Exports == nil {
		return RetentionSummary{}, fmt.Errorf("export archive is required")
	}

	keys, err := s.listTargetQueries(ctx, queryKey)
	if err != nil {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return RetentionSummary{}, err
	}

	summary := RetentionSummary{QueriesScanned: len(keys)}
	failures := make([]string, 0)
	cutoff := time.Time{}
	if s.Config.MaxAge > 0 {
		cutoff = s.Clock().Add(-s.Config.MaxAge)
	}

	for _, key := range keys {
		exports, err := s.Exports.List(ctx, key, 0)
		if err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("query %s list exports: %v", key, err))
			continue
		}
		summary.ExportsScanned += len(exports)

		for _, candidate := range pruneCandidates(exports, s.Config.KeepExports, cutoff) {
			if err := s.Exports.Delete(ctx, key, candidate.Name); err != nil {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("query %s delete export %s: %v", key, candidate.Name, err))
				continue
			}
			summary.ExportsDeleted++
		}
	}

	if summary.ExportsDeleted > 0 {
		exportsPrunedTotal.Add(float64(summary.ExportsDeleted))
	}
	if len(failures) > 0 {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// pruneCandidates returns the exports to delete. Export names start with
// their creation time, so name order is age order.
func pruneCandidates(exports []export.Export, keep int, cutoff time.Time) []export.Export {
	sorted := slices.Clone(exports)
	slices.SortFunc(sorted, func(a, b export.Export) int { return strings.Compare(a.Name, b.Name) })

	overflow := 0
	if keep > 0 && len(sorted) > keep {
		overflow = len(sorted) - keep
	}
	candidates := make([]export.Export, 0)
	for i, item := range sorted {
		expired := !cutoff.IsZero() && !item.LastModified.IsZero() && item.LastModified.Before(cutoff)
		if i < overflow || expired {
			candidates = append(candidates, item)
		}
	}
	return candidates
}

func (s *Service) listTargetQueries(ctx context.Context, queryKey string) ([]string, error) {
	if queryKey != "" {
		return []string{queryKey}, nil
	}
	defs, err := s.Catalog.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list query definitions: %w", err)
	}
	keys := make([]string, 0, len(defs))
	for _, def := range defs {
		keys = append(keys, def.Key)
	}
	return keys, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = 10 * time.Minute
	}
	if s.Config.KeepExports <= 0 && s.Config.MaxAge <= 0 {
		s.Config.KeepExports = 20
	}
}
