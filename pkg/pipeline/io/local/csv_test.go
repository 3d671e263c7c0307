package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/io/local"
)

var _ core.InputAdapter[string] = local.FileSource{}

func TestReadAddressesCSV(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{
			name: "reads address column",
			in:   "id,address\n1,123 Main St\n2,9 Elm Rd\n",
			want: []string{"123 Main St", "9 Elm Rd"},
		},
		{
			name: "header is case-insensitive",
			in:   "Full_Address\n123 Main St\n",
			want: []string{"123 Main St"},
		},
		{
			name: "priority order wins over column order",
			in:   "street_address,raw_address\n1 Street,2 Raw\n",
			want: []string{"2 Raw"},
		},
		{
			name: "blank and short rows are skipped",
			in:   "id,address\n1,123 Main St\n2,   \n3\n4,\"9 Elm Rd, Dover, DE\"\n",
			want: []string{"123 Main St", "9 Elm Rd, Dover, DE"},
		},
		{
			name: "byte order mark",
			in:   "\ufeffaddress\n1 A St\n",
			want: []string{"1 A St"},
		},
		{name: "missing column errors", in: "email\nx@example.com\n", wantErr: true},
		{name: "empty input errors", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := local.ReadAddressesCSV(strings.NewReader(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("got %#v want %#v", got, tt.want)
			}
		})
	}
}

func TestReadAddressesText(t *testing.T) {
	got, err := local.ReadAddressesText(strings.NewReader("123 Main St\n\n  9 Elm Rd  \r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "123 Main St" || got[1] != "9 Elm Rd" {
		t.Fatalf("unexpected addresses: %#v", got)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "in.csv")
	txtPath := filepath.Join(dir, "in.TXT")
	if err := os.WriteFile(csvPath, []byte("address\n1 A St\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(txtPath, []byte("address\n1 A St\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := local.FileSource{Path: csvPath}.Load(context.Background())
	if err != nil || len(got) != 1 || got[0] != "1 A St" {
		t.Fatalf("csv Load=%#v,%v", got, err)
	}
	// Text input has no header; every line is an address.
	got, err = local.FileSource{Path: txtPath}.Load(context.Background())
	if err != nil || len(got) != 2 {
		t.Fatalf("txt Load=%#v,%v", got, err)
	}

	if _, err := (local.FileSource{Path: filepath.Join(dir, "missing.csv")}).Load(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
