// Package mongo stores jobs as documents of the jobs collection.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/CZERTAINLY/Runner/internal/model"
)

const (
	defaultDatabase = "runner"
	colJobs         = "jobs"
)

// jobModel keeps the queried fields next to the encoded job, so the result
// of a script survives as it was returned.
type jobModel struct {
	ID       string    `bson:"_id"`
	Client   string    `bson:"client"`
	Status   string    `bson:"status"`
	CreateAt time.Time `bson:"create_at"`
	Data     string    `bson:"data"`
}

type Store struct {
	client *mongod.Client
	col    *mongod.Collection
	owned  bool
}

// Open connects to uri. An empty database means "runner".
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	s, err := New(ctx, client, database)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses an existing client, which the caller keeps owning.
func New(ctx context.Context, client *mongod.Client, database string) (*Store, error) {
	if database == "" {
		database = defaultDatabase
	}
	col := client.Database(database).Collection(colJobs)
	_, err := col.Indexes().CreateOne(ctx, mongod.IndexModel{
		Keys: bson.D{{Key: "client", Value: 1}, {Key: "create_at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}
	return &Store{client: client, col: col}, nil
}

func (s *Store) Save(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.JobID, err)
	}
	m := jobModel{
		ID:       job.JobID,
		Client:   job.Client,
		Status:   string(job.Status),
		CreateAt: job.CreateAt,
		Data:     string(data),
	}
	_, err = s.col.ReplaceOne(ctx, bson.M{"_id": job.JobID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (model.Job, error) {
	var m jobModel
	err := s.col.FindOne(ctx, bson.M{"_id": jobID}).Decode(&m)
	switch {
	case errors.Is(err, mongod.ErrNoDocuments):
		return model.Job{}, model.ErrJobNotFound
	case err != nil:
		return model.Job{}, fmt.Errorf("getting job %s: %w", jobID, err)
	}
	return m.job()
}

func (s *Store) List(ctx context.Context, client string) ([]model.Job, error) {
	filter := bson.M{}
	if client != "" {
		filter["client"] = client
	}
	opts := options.Find().SetSort(bson.D{{Key: "create_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	var models []jobModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	ret := make([]model.Job, 0, len(models))
	for _, m := range models {
		job, err := m.job()
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, nil
}

// Close disconnects a client created by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (m jobModel) job() (model.Job, error) {
	var job model.Job
	if err := json.Unmarshal([]byte(m.Data), &job); err != nil {
		return model.Job{}, fmt.Errorf("decoding job %s: %w", m.ID, err)
	}
	return job, nil
}
