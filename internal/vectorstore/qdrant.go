// Package vectorstore indexes memory embeddings in Qdrant for similarity
// search across restarts. The in-process memory store remains the scoring
// authority; this index mirrors it durably and answers the nearest
// neighbour queries that rebuild a cold log.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nidhogg/vivarium/internal/memory"
)

// DefaultCollection is the memory embedding collection name.
const DefaultCollection = "agent_memories"

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
	Dimension  uint64 `json:"dimension"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
}

// NewClient dials the Qdrant gRPC endpoint and ensures the memory
// collection exists.
func NewClient(ctx context.Context, cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	c := &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
	}
	if cfg.Dimension > 0 {
		if err := c.ensureCollection(ctx, cfg.Dimension); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) ensureCollection(ctx context.Context, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: c.collection})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", c.collection, err)
	}
	return nil
}

// UpsertMemory implements memory.VectorIndex. Records without an embedding
// are skipped.
func (c *Client) UpsertMemory(ctx context.Context, r *memory.Record) error {
	if len(r.Embedding) == 0 {
		return nil
	}
	payload := map[string]*pb.Value{
		"agent_id":   {Kind: &pb.Value_StringValue{StringValue: r.AgentID}},
		"world_id":   {Kind: &pb.Value_StringValue{StringValue: r.WorldID}},
		"kind":       {Kind: &pb.Value_StringValue{StringValue: string(r.Kind)}},
		"importance": {Kind: &pb.Value_StringValue{StringValue: strconv.Itoa(r.Importance)}},
		"created_at": {Kind: &pb.Value_StringValue{StringValue: r.CreatedAt.Format(time.RFC3339)}},
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert memory %s: %w", r.ID, err)
	}
	return nil
}

// Search returns the agent's nearest memory points for a query vector.
// Implements the search half of memory.VectorIndex; the memory store uses
// it to rebuild an agent's log after a restart.
func (c *Client) Search(ctx context.Context, agentID string, vector []float32, topK int) ([]memory.VectorHit, error) {
	if topK <= 0 {
		topK = memory.DefaultTopN
	}
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter: &pb.Filter{
			Must: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key: "agent_id",
							Match: &pb.Match{
								MatchValue: &pb.Match_Keyword{Keyword: agentID},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.collection, err)
	}
	results := make([]memory.VectorHit, 0, len(resp.Result))
	for _, hit := range resp.Result {
		results = append(results, memory.VectorHit{
			MemoryID: hit.Id.GetUuid(),
			Score:    float64(hit.Score),
		})
	}
	return results, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
