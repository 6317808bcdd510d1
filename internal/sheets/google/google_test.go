package google

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := New(context.Background(), Config{SpreadsheetID: "id"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "id", CredentialsFile: "/does/not/exist.json"})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected file error, got %v", err)
	}
}

func TestReadRows(t *testing.T) {
	var gotRange string
	c := &Client{
		spreadsheetID: "sheet",
		rng:           "Buchungen!A:I",
		values: func(_ context.Context, id, rng string) ([][]interface{}, error) {
			gotRange = rng
			return [][]interface{}{
				{"Buchungsdatum", "Anreise", " Unterkunft "},
				{"01.01.2024", "02.02.2024", "Haus", nil},
				{float64(12), true},
			}, nil
		},
	}
	rows, err := c.ReadRows(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{
		{"Buchungsdatum", "Anreise", "Unterkunft"},
		{"01.01.2024", "02.02.2024", "Haus", ""},
		{"12", "true"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("expected %v, got %v", want, rows)
	}
	if gotRange != "Buchungen!A:I" {
		t.Fatalf("unexpected range %q", gotRange)
	}
}

func TestReadRows_Error(t *testing.T) {
	c := &Client{rng: "X!A:B", values: func(context.Context, string, string) ([][]interface{}, error) {
		return nil, errors.New("quota exceeded")
	}}
	if _, err := c.ReadRows(context.Background()); err == nil || !strings.Contains(err.Error(), "read X!A:B") {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	var empty Client
	if _, err := empty.ReadRows(context.Background()); err == nil {
		t.Fatalf("expected error for uninitialized client")
	}
}
