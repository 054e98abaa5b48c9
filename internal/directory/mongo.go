package directory

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/subject"
	"github.com/natssync/mstress/pkg/errors"
)

const locationField = "locationID"

type MongoOptions struct {
	URL        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Mongo reads client identifiers from the locationID field of a collection.
type Mongo struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	logger  *logging.Logger
}

// NewMongo configures the driver. The driver dials lazily, so an
// unreachable server surfaces on the first query, not here.
func NewMongo(ctx context.Context, opts MongoOptions) (*Mongo, error) {
	if opts.Database == "" {
		opts.Database = "natssync"
	}
	if opts.Collection == "" {
		opts.Collection = "locations"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(opts.URL).
		SetAppName("mstress").
		SetServerSelectionTimeout(opts.Timeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	return &Mongo{
		client:  client,
		coll:    client.Database(opts.Database).Collection(opts.Collection),
		timeout: opts.Timeout,
		logger:  logging.NewLogger("directory"),
	}, nil
}

type location struct {
	LocationID string `bson:"locationID"`
}

func (m *Mongo) Clients(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.logger.Debug("searching for clients",
		logging.F("database", m.coll.Database().Name()),
		logging.F("collection", m.coll.Name()))

	query := bson.M{locationField: bson.M{"$ne": subject.CloudMaster}}
	projection := options.Find().SetProjection(bson.M{locationField: 1, "_id": 0})
	cursor, err := m.coll.Find(ctx, query, projection)
	if err != nil {
		return nil, errors.ErrDirectoryUnavailable(err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc location
		if err := cursor.Decode(&doc); err != nil || doc.LocationID == "" {
			m.logger.Warn("skipping location without identifier", logging.F("error", err))
			continue
		}
		ids = append(ids, doc.LocationID)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.ErrDirectoryUnavailable(err)
	}

	clients := filter(ids)
	m.logger.Debug("found clients", logging.F("count", len(clients)))
	return clients, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
