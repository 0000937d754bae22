package stream_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/stream"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

func TestHTTPFeed_ReadsNDJSONAndSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream/price/spot" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "{\"price\":1}\n\n: keepalive\nevent: tick\ndata: {\"price\":2}\n\n")
	}))
	defer srv.Close()

	conn, err := stream.NewHTTPFeed(srv.URL, "", time.Second).Open(context.Background(), "spot")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	for _, want := range []string{`{"price":1}`, `{"price":2}`} {
		got, err := conn.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(got) != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
	if _, err := conn.Next(); err == nil {
		t.Error("expected error at end of stream")
	}
}

func TestHTTPFeed_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := stream.NewHTTPFeed(srv.URL, "", time.Second).Open(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for 404 stream")
	}
}

func TestRedisFeed_ReceivesPublished(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	feed := stream.NewRedisFeed(rdb, time.Second)
	conn, err := feed.Open(context.Background(), "gold96")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	mr.Publish(models.PriceChannel("gold96"), `{"buy_price":41000}`)

	got, err := conn.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(got) != `{"buy_price":41000}` {
		t.Errorf("unexpected payload %s", got)
	}
}

func TestRedisFeed_Snapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	feed := stream.NewRedisFeed(rdb, time.Second)

	snap, err := feed.Snapshot(context.Background(), "spot")
	if err != nil || snap != nil {
		t.Fatalf("expected empty snapshot, got %s, %v", snap, err)
	}

	mr.Set(models.SnapshotKey("spot"), `{"price":42000}`)
	snap, err = feed.Snapshot(context.Background(), "spot")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if string(snap) != `{"price":42000}` {
		t.Errorf("unexpected snapshot %s", snap)
	}
}
