// Package graph implements the supplemental document-relationship graph:
// a Neo4j-backed store that records chunk membership as DocPipeline
// ingests a document, and citation co-occurrence as TraceStore persists a
// thought chain, so RelatedDocuments can traverse citation relationships
// instead of only cosine similarity.
package graph

import (
	"context"
	"fmt"

	neo4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Store is the supplemental citation/chunk graph.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// Config holds the Neo4j connection parameters.
type Config struct {
	URI      string
	Username string
	Password string
	Database string // empty means the server's default database
}

// New opens a Neo4j driver and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	drv, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph.New: %w", err)
	}
	if err := drv.VerifyConnectivity(ctx); err != nil {
		drv.Close(ctx)
		return nil, fmt.Errorf("graph.New: verify connectivity: %w", err)
	}
	return &Store{driver: drv, database: cfg.Database}, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// RelatedDocument is a document reached via citation co-occurrence, paired
// with how many thought chains cited it alongside the source document.
type RelatedDocument struct {
	DocumentUUID string
	CoCitations  int
}

// RecordChunks upserts a (:Document {uuid})-[:CHUNK_OF]->(:Chunk {uuid})
// relationship for every chunk DocPipeline just inserted. Called once per
// successful ingestion; failures are non-fatal to the caller (the graph is
// additive, not authoritative; vector-search path never depends
// on it).
func (s *Store) RecordChunks(ctx context.Context, documentUUID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (d:Document {uuid: $documentUUID})
			WITH d
			UNWIND $chunkIDs AS chunkID
			MERGE (c:Chunk {uuid: chunkID})
			MERGE (c)-[:CHUNK_OF]->(d)`,
			map[string]any{"documentUUID": documentUUID, "chunkIDs": chunkIDs})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph.RecordChunks: %w", err)
	}
	return nil
}

// RemoveDocument detaches and deletes a document's node and its owned chunk
// nodes, mirroring DocPipeline's delete-task cascade.
func (s *Store) RemoveDocument(ctx context.Context, documentUUID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (d:Document {uuid: $documentUUID})
			OPTIONAL MATCH (c:Chunk)-[:CHUNK_OF]->(d)
			DETACH DELETE d, c`,
			map[string]any{"documentUUID": documentUUID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph.RemoveDocument: %w", err)
	}
	return nil
}

// RecordCitations records that a single thought chain cited the given set of
// documents together, incrementing a CITES edge weight for every pair. Two
// documents cited in the same answer are "co-cited"; repeated co-citation
// across many chains is what RelatedDocuments ranks on.
func (s *Store) RecordCitations(ctx context.Context, documentUUIDs []string) error {
	if len(documentUUIDs) < 2 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i := 0; i < len(documentUUIDs); i++ {
			for j := i + 1; j < len(documentUUIDs); j++ {
				if documentUUIDs[i] == documentUUIDs[j] {
					continue
				}
				_, err := tx.Run(ctx, `
					MERGE (a:Document {uuid: $a})
					MERGE (b:Document {uuid: $b})
					MERGE (a)-[r:CITES]-(b)
					ON CREATE SET r.weight = 1
					ON MATCH SET r.weight = r.weight + 1`,
					map[string]any{"a": documentUUIDs[i], "b": documentUUIDs[j]})
				if err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph.RecordCitations: %w", err)
	}
	return nil
}

// RelatedDocuments returns the documents most frequently co-cited with
// documentUUID, ordered by descending co-citation weight. This supplements,
// never replaces, the vector store's cosine-similarity nearest-neighbor search.
func (s *Store) RelatedDocuments(ctx context.Context, documentUUID string, limit int) ([]RelatedDocument, error) {
	if limit <= 0 {
		limit = 5
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (d:Document {uuid: $documentUUID})-[r:CITES]-(other:Document)
			RETURN other.uuid AS uuid, r.weight AS weight
			ORDER BY weight DESC
			LIMIT $limit`,
			map[string]any{"documentUUID": documentUUID, "limit": limit})
		if err != nil {
			return nil, err
		}

		var out []RelatedDocument
		for res.Next(ctx) {
			rec := res.Record()
			uuid, _ := rec.Get("uuid")
			weight, _ := rec.Get("weight")
			w, _ := weight.(int64)
			out = append(out, RelatedDocument{DocumentUUID: fmt.Sprintf("%v", uuid), CoCitations: int(w)})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph.RelatedDocuments: %w", err)
	}
	return result.([]RelatedDocument), nil
}
