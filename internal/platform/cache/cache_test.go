package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/0", false},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	url := os.Getenv("LEARN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEARN_TEST_REDIS_URL not set")
	}

	ctx := t.Context()
	c, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	type payload struct {
		Topic string `json:"topic"`
	}
	key := "test:" + t.Name()
	t.Cleanup(func() { _ = c.Delete(context.Background(), key) })

	var got payload
	if err := c.GetJSON(ctx, key, &got); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetJSON() before set error = %v, want ErrMiss", err)
	}
	if err := c.SetJSON(ctx, key, payload{Topic: "go"}, time.Minute); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	if err := c.GetJSON(ctx, key, &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got.Topic != "go" {
		t.Errorf("Topic = %q, want go", got.Topic)
	}
}
