package directory

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/natssync/mstress/pkg/errors"
)

func TestNewMongoRejectsBadURL(t *testing.T) {
	if _, err := NewMongo(context.Background(), MongoOptions{URL: "http://mongo"}); err == nil {
		t.Fatal("expected error for non-mongodb scheme")
	}
}

func TestMongoUnreachable(t *testing.T) {
	m, err := NewMongo(context.Background(), MongoOptions{
		URL:     "mongodb://127.0.0.1:1/?connect=direct",
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewMongo: %v", err)
	}
	defer m.Close(context.Background())

	if _, err := m.Clients(context.Background()); !errors.HasCode(err, errors.ErrCodeDirectoryUnavailable) {
		t.Fatalf("err = %v, want directory unavailable", err)
	}
}

// Runs against a real server when MSTRESS_TEST_MONGO_URL is set.
func TestMongoClients(t *testing.T) {
	url := os.Getenv("MSTRESS_TEST_MONGO_URL")
	if url == "" {
		t.Skip("MSTRESS_TEST_MONGO_URL not set")
	}
	ctx := context.Background()
	coll := fmt.Sprintf("locations_test_%d", time.Now().UnixNano())
	m, err := NewMongo(ctx, MongoOptions{URL: url, Collection: coll})
	if err != nil {
		t.Fatalf("NewMongo: %v", err)
	}
	defer m.Close(ctx)
	if err := m.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	defer m.coll.Drop(ctx)

	_, err = m.coll.InsertMany(ctx, []interface{}{
		bson.M{"locationID": "site-a"},
		bson.M{"locationID": "cloud-master"},
		bson.M{"other": "no id"},
		bson.M{"locationID": "site-b"},
	})
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	got, err := m.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Clients = %v, want site-a and site-b", got)
	}
}
