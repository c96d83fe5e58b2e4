package mongo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	globalClient     *mongo.Client
	globalClientErr  error
	globalClientOnce sync.Once
)

func testMongoURI() string {
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017/?serverSelectionTimeoutMS=1000"
}

func getGlobalTestClient(t *testing.T) *mongo.Client {
	globalClientOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(testMongoURI()))
		if err != nil {
			globalClientErr = err
			return
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			globalClientErr = err
			return
		}
		globalClient = client
	})

	if globalClientErr != nil {
		t.Skipf("Skipping test: MongoDB not available: %v", globalClientErr)
	}
	return globalClient
}

func setupTestDB(t *testing.T) *mongo.Database {
	client := getGlobalTestClient(t)

	safeName := strings.ReplaceAll(t.Name(), "/", "_")
	if len(safeName) > 20 {
		safeName = safeName[len(safeName)-20:]
	}
	dbName := fmt.Sprintf("test_postfeed_%s_%d", safeName, time.Now().UnixNano()%100000)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Database(dbName).Drop(ctx)
	})

	return client.Database(dbName)
}
