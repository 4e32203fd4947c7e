package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mmynk/tallyledger/internal/storage"
	"github.com/mmynk/tallyledger/internal/storage/storetest"
)

// startMongo runs a single-node replica set, needed for transactions.
func startMongo(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mongo integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)
	uri := fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port())

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	admin := client.Database("admin")
	err = admin.RunCommand(ctx, bson.D{{Key: "replSetInitiate", Value: bson.D{
		{Key: "_id", Value: "rs0"},
		{Key: "members", Value: bson.A{bson.D{{Key: "_id", Value: 0}, {Key: "host", Value: "localhost:27017"}}}},
	}}}).Err()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var hello struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		if err := admin.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
			return false
		}
		return hello.IsWritablePrimary
	}, 30*time.Second, 250*time.Millisecond)

	return uri
}

func TestMongoStore_Compliance(t *testing.T) {
	uri := startMongo(t)
	ctx := context.Background()

	n := 0
	storetest.Run(t, func(t *testing.T) storage.DocStore {
		n++
		store, err := New(ctx, uri, fmt.Sprintf("ledger_test_%d", n))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestNormalize(t *testing.T) {
	in := bson.M{
		"entries": bson.A{"2", "3"},
		"meta":    bson.D{{Key: "source", Value: "voice"}, {Key: "n", Value: int32(2)}},
		"count":   int64(4),
		"name":    "Anu",
	}
	out := normalize(in)
	assert.Equal(t, map[string]any{
		"entries": []any{"2", "3"},
		"meta":    map[string]any{"source": "voice", "n": float64(2)},
		"count":   float64(4),
		"name":    "Anu",
	}, out)
}
