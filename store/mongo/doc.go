// Package mongo implements the store using the official MongoDB
// driver. Jobs live in one collection with the tier weight materialized
// per document, so the admission sort and the position count compare
// the same persisted key. Single-document claims are atomic through
// FindOneAndUpdate, and the capacity check is serialized by a short
// lease document, so concurrent admitters cannot overshoot the cap.
//
// The caller owns the *mongo.Client lifecycle:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("tierq"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
