// Package mongodb is a mongo-driver-backed execute.Database adapter,
// grounded on the teacher's MongoDB adapter (storage/mongo.go).
package mongodb

import (
	"context"
	"crypto/sha256"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"hotstuff/configs"
	"hotstuff/execute"
)

type MongoDB struct {
	ctx    context.Context
	client *mongo.Client
	main   *mongo.Collection
}

type appliedDoc struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

func Open(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	return &MongoDB{
		ctx:    ctx,
		client: client,
		main:   client.Database(dbName).Collection("hotstuff_applied"),
	}, nil
}

// Apply upserts every request's payload; unlike the teacher's adapter
// (whose comment flags it "deprecated: contention too high" for the
// original OLTP workload), batch application here is append-only by
// (client_id, seq_no) key, so per-key contention never recurs within a
// single decided batch.
func (db *MongoDB) Apply(txnID uint64, reqs []execute.Request) ([]byte, error) {
	h := sha256.New()
	for _, r := range reqs {
		key := strconv.FormatUint(r.ClientID, 10) + ":" + strconv.FormatUint(r.SeqNo, 10)
		opts := options.Update().SetUpsert(true)
		_, err := db.main.UpdateOne(db.ctx, bson.M{"_id": key},
			bson.M{"$set": bson.M{"value": r.Payload}}, opts)
		if err != nil {
			return nil, err
		}
		h.Write(r.Payload)
	}
	configs.TPrintf("mongodb: applied batch txn_id=%d requests=%d", txnID, len(reqs))
	return h.Sum(nil), nil
}

func (db *MongoDB) Close() error {
	return db.client.Disconnect(db.ctx)
}
