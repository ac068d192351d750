package storage

import (
	"testing"
	"time"
)

func TestBuildExportFileName(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 4, 5, 0, 0, time.FixedZone("x", -5*3600))
	name, err := BuildExportFileName(ts, "0f8fad5b-d9cb-469f-a165-70867728950e", "xml")
	if err != nil {
		t.Fatalf("BuildExportFileName() error = %v", err)
	}
	want := "20260219T090500Z-0f8fad5b-d9cb-469f-a165-70867728950e.xml"
	if name != want {
		t.Fatalf("BuildExportFileName() = %q, want %q", name, want)
	}
	if ExportFormat(name) != "xml" {
		t.Fatalf("ExportFormat() = %q", ExportFormat(name))
	}
}

func TestBuildExportPath(t *testing.T) {
	key, err := BuildExportPath("/exports/", "my_hosts", "20260219T090500Z-abc.json")
	if err != nil {
		t.Fatalf("BuildExportPath() error = %v", err)
	}
	want := "exports/my_hosts/20260219T090500Z-abc.json"
	if key != want {
		t.Fatalf("BuildExportPath() = %q, want %q", key, want)
	}

	key, err = BuildExportPath("", "hosts", "a.xml")
	if err != nil {
		t.Fatalf("BuildExportPath() error = %v", err)
	}
	if key != "hosts/a.xml" {
		t.Fatalf("BuildExportPath() = %q", key)
	}
}

func TestBuildExportDir(t *testing.T) {
	dir, err := BuildExportDir("exports", "hosts")
	if err != nil {
		t.Fatalf("BuildExportDir() error = %v", err)
	}
	if dir != "exports/hosts" {
		t.Fatalf("BuildExportDir() = %q", dir)
	}
}

func TestBuildExportPathRejectsInvalidComponent(t *testing.T) {
	cases := [][3]string{
		{"exports", "../oops", "a.xml"},
		{"exports", "hosts", "../a.xml"},
		{"exports", "hosts", "a/b.xml"},
		{"ex/../ports", "hosts", "a.xml"},
	}
	for _, c := range cases {
		if _, err := BuildExportPath(c[0], c[1], c[2]); err == nil {
			t.Fatalf("BuildExportPath(%q, %q, %q) expected error", c[0], c[1], c[2])
		}
	}
	if _, err := BuildExportFileName(time.Now(), "id with space", "xml"); err == nil {
		t.Fatal("expected invalid export id error")
	}
}
