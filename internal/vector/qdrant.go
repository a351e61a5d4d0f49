package vector

import (
	"context"
	"fmt"
	"os"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantStore implements Store against a qdrant server over gRPC. Selected
// by VECTOR_STORE_BACKEND=qdrant; deployments using it take their vector
// backups through qdrant's own snapshot facility, not the directory tar.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrantStore dials qdrant at addr and ensures the collection exists with
// the given dimensionality.
func NewQdrantStore(addr, collection string, dims int) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	s := &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
	if err := s.ensureCollection(context.Background(), dims); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error { return s.conn.Close() }

func (s *QdrantStore) ensureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, docID string, vec []float32, payload map[string]string) error {
	fields := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		fields[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: docID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}},
			},
			Payload: fields,
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert point %s: %w", docID, err)
	}
	return nil
}

func (s *QdrantStore) Get(ctx context.Context, docID string) ([]float32, error) {
	withVectors := true
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: docID}}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: withVectors}},
	})
	if err != nil {
		return nil, fmt.Errorf("get point %s: %w", docID, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, os.ErrNotExist
	}
	vectors := resp.GetResult()[0].GetVectors()
	if v := vectors.GetVector(); v != nil {
		return v.GetData(), nil
	}
	return nil, os.ErrNotExist
}

func (s *QdrantStore) Delete(ctx context.Context, docID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: docID}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete point %s: %w", docID, err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *QdrantStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var offset *pb.PointId
	limit := uint32(256)

	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			Offset:         offset,
		})
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, p := range resp.GetResult() {
			ids = append(ids, p.GetId().GetUuid())
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return ids, nil
		}
	}
}

func (s *QdrantStore) Search(ctx context.Context, vec []float32, limit int) ([]Match, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	matches := make([]Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		matches = append(matches, Match{
			DocID: r.GetId().GetUuid(),
			Score: float64(r.GetScore()),
		})
	}
	return matches, nil
}
