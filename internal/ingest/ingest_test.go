package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const sample = `{"user_id":"acme","service_name":"Amazon EC2","cost":"12.345678","usage_date":"2024-05-01","provider":"aws","tags":{"team":"core"}}
{"service_name":"S3","cost":3.5,"usage_date":"2024-05-02T18:30:00Z"}

{"service_name":"RDS","cost":"abc","usage_date":"2024-05-01"}
{"service_name":"RDS","cost":1,"usage_date":"05/01/2024"}
{"service_name":"","cost":1,"usage_date":"2024-05-01"}
{"service_name":"RDS","usage_date":"2024-05-01"}
{"service_name":"RDS","cost":-2,"usage_date":"2024-05-01"}
not json
`

func TestDecode(t *testing.T) {
	res, err := Decode(strings.NewReader(sample), "fallback")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	if len(res.Dropped) != 6 {
		t.Errorf("dropped %d lines, want 6: %v", len(res.Dropped), res.Dropped)
	}

	first := res.Records[0]
	if first.UserID != "acme" || first.Provider != "aws" || first.Tags["team"] != "core" {
		t.Errorf("first record = %+v", first)
	}
	if !first.Cost.Equal(decimal.RequireFromString("12.345678")) {
		t.Errorf("cost = %s", first.Cost)
	}

	second := res.Records[1]
	if second.UserID != "fallback" {
		t.Errorf("default user not applied: %q", second.UserID)
	}
	if want := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC); !second.UsageDate.Equal(want) {
		t.Errorf("usage date = %v, want %v", second.UsageDate, want)
	}
	if res.Dropped[0].Line != 4 {
		t.Errorf("first dropped line = %d, want 4", res.Dropped[0].Line)
	}
}

func TestDecode_OversizedLineDropped(t *testing.T) {
	huge := `{"service_name":"EC2","cost":1,"usage_date":"2024-05-01","tags":{"x":"` +
		strings.Repeat("a", maxLineBytes) + `"}}`
	input := strings.Join([]string{
		`{"service_name":"EC2","cost":1,"usage_date":"2024-05-01"}`,
		huge,
		`{"service_name":"S3","cost":2,"usage_date":"2024-05-02"}`,
	}, "\n")

	res, err := Decode(strings.NewReader(input), "acme")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.Records) != 2 || res.Records[1].ServiceName != "S3" {
		t.Errorf("records = %+v, want EC2 and S3", res.Records)
	}
	if len(res.Dropped) != 1 || res.Dropped[0].Line != 2 {
		t.Errorf("dropped = %v, want line 2", res.Dropped)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024-05-01", "2024-05-01", false},
		{"2024-05-01T23:59:00-02:00", "2024-05-02", false},
		{" 2024-05-01 ", "2024-05-01", false},
		{"2024-13-01", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.Format("2006-01-02") != tt.want {
			t.Errorf("ParseDate(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}
}

func TestClient_FetchRecords(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Path != "/users/acme/cost-records" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != "2024-05-01" {
			t.Errorf("since = %q", got)
		}
		_, _ = w.Write([]byte(`{"service_name":"EC2","cost":"4.20","usage_date":"2024-05-02"}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 3, time.Millisecond)
	res, err := c.FetchRecords(context.Background(), "acme", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchRecords: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", calls.Load())
	}
	if len(res.Records) != 1 || res.Records[0].UserID != "acme" {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown user", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 3, time.Millisecond)
	if _, err := c.FetchRecords(context.Background(), "ghost", time.Time{}); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls.Load() != 1 {
		t.Errorf("404 retried: %d calls", calls.Load())
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 2, time.Millisecond)
	_, err := c.FetchRecords(context.Background(), "acme", time.Time{})
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("expected retries exceeded error, got %v", err)
	}
}
