package maintenance

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/export"
)

func TestRunRetentionOnceKeepsNewestExports(t *testing.T) {
	archive := &fakeArchive{exports: map[string][]export.Export{
		"hosts": {
			{QueryKey: "hosts", Name: "20260103T000000Z-c.xml"},
			{QueryKey: "hosts", Name: "20260101T000000Z-a.xml"},
			{QueryKey: "hosts", Name: "20260102T000000Z-b.json"},
		},
		"instances": {
			{QueryKey: "instances", Name: "20260101T000000Z-d.xml"},
		},
	}}
	svc := &Service{
		Catalog: &fakeCatalog{defs: []catalog.Definition{{Key: "hosts"}, {Key: "instances"}}},
		Exports: archive,
		Config:  Config{KeepExports: 2},
	}

	summary, err := svc.RunRetentionOnce(context.Background(), "")
	if err != nil {
		t.Fatalf("RunRetentionOnce() error = %v", err)
	}
	if summary.QueriesScanned != 2 || summary.ExportsScanned != 4 || summary.ExportsDeleted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !slices.Equal(archive.deleted, []string{"hosts/20260101T000000Z-a.xml"}) {
		t.Fatalf("deleted = %v", archive.deleted)
	}
}

func TestRunRetentionOncePrunesByAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	archive := &fakeArchive{exports: map[string][]export.Export{
		"hosts": {
			{QueryKey: "hosts", Name: "old.xml", LastModified: now.Add(-48 * time.Hour)},
			{QueryKey: "hosts", Name: "recent.xml", LastModified: now.Add(-time.Hour)},
			{QueryKey: "hosts", Name: "unknown.xml"},
		},
	}}
	svc := &Service{
		Catalog: &fakeCatalog{},
		Exports: archive,
		Config:  Config{MaxAge: 24 * time.Hour},
		Clock:   func() time.Time { return now },
	}

	summary, err := svc.RunRetentionOnce(context.Background(), "hosts")
	if err != nil {
		t.Fatalf("RunRetentionOnce() error = %v", err)
	}
	if summary.QueriesScanned != 1 || summary.ExportsDeleted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !slices.Equal(archive.deleted, []string{"hosts/old.xml"}) {
		t.Fatalf("deleted = %v", archive.deleted)
	}
}

func TestRunRetentionOnceContinuesPastFailures(t *testing.T) {
	archive := &fakeArchive{
		exports: map[string][]export.Export{
			"hosts": {
				{QueryKey: "hosts", Name: "a.xml"},
				{QueryKey: "hosts", Name: "b.xml"},
				{QueryKey: "hosts", Name: "c.xml"},
			},
		},
		listErr:   map[string]error{"instances": errors.New("bucket unavailable")},
		deleteErr: map[string]error{"a.xml": errors.New("access denied")},
	}
	svc := &Service{
		Catalog: &fakeCatalog{defs: []catalog.Definition{{Key: "hosts"}, {Key: "instances"}}},
		Exports: archive,
		Config:  Config{KeepExports: 1},
	}

	summary, err := svc.RunRetentionOnce(context.Background(), "")
	if err == nil {
		t.Fatal("expected retention error")
	}
	if summary.Failures != 2 || summary.ExportsDeleted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !slices.Equal(archive.deleted, []string{"hosts/b.xml"}) {
		t.Fatalf("deleted = %v", archive.deleted)
	}
}

func TestRunRetentionOnceRequiresDependencies(t *testing.T) {
	if _, err := (&Service{Exports: &fakeArchive{}}).RunRetentionOnce(context.Background(), ""); err == nil {
		t.Fatal("expected missing catalog error")
	}
	if _, err := (&Service{Catalog: &fakeCatalog{}}).RunRetentionOnce(context.Background(), ""); err == nil {
		t.Fatal("expected missing archive error")
	}
}

func TestRunRetentionOnceCatalogFailure(t *testing.T) {
	svc := &Service{
		Catalog: &fakeCatalog{err: errors.New("catalog down")},
		Exports: &fakeArchive{},
	}
	if _, err := svc.RunRetentionOnce(context.Background(), ""); err == nil {
		t.Fatal("expected catalog error")
	}
}

func TestEnsureDefaultsKeepsExportsWithoutRules(t *testing.T) {
	svc := &Service{}
	svc.ensureDefaults()
	if svc.Config.KeepExports != 20 {
		t.Fatalf("KeepExports = %d, want 20", svc.Config.KeepExports)
	}
	if svc.Config.RetentionInterval != 10*time.Minute {
		t.Fatalf("RetentionInterval = %s", svc.Config.RetentionInterval)
	}

	aged := &Service{Config: Config{MaxAge: time.Hour}}
	aged.ensureDefaults()
	if aged.Config.KeepExports != 0 {
		t.Fatalf("KeepExports = %d, want 0 when MaxAge is set", aged.Config.KeepExports)
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &Service{Catalog: &fakeCatalog{}, Exports: &fakeArchive{}}
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

type fakeCatalog struct {
	defs []catalog.Definition
	err  error
}

func (f *fakeCatalog) ListDefinitions(context.Context) ([]catalog.Definition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.defs, nil
}

type fakeArchive struct {
	exports   map[string][]export.Export
	listErr   map[string]error
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeArchive) List(_ context.Context, queryKey string, _ int) ([]export.Export, error) {
	if err := f.listErr[queryKey]; err != nil {
		return nil, err
	}
	return f.exports[queryKey], nil
}

func (f *fakeArchive) Delete(_ context.Context, queryKey, name string) error {
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, queryKey+"/"+name)
	return nil
}
