package qdrant

import (
	"fmt"
	"maps"
	"strings"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/qdrant/go-client/qdrant"
)

func toPointStruct(entry *domain.IndexEntry) (*qdrant.PointStruct, error) {
	payload, err := qdrant.TryValueMap(entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload of %s: %v", e.ErrPermanentJob, entry.ExternalID, err)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(entry.InternalID),
		Vectors: qdrant.NewVectors(entry.Vector...),
		Payload: payload,
	}, nil
}

func toSearchHit(point *qdrant.ScoredPoint) domain.SearchHit {
	payload := fromValueMap(point.GetPayload())
	externalID, _ := payload[domain.PayloadExternalID].(string)

	return domain.SearchHit{
		InternalID: point.GetId().GetUuid(),
		ExternalID: externalID,
		Score:      point.GetScore(),
		Payload:    payload,
	}
}

func toIndexEntry(externalID string, point *qdrant.RetrievedPoint) *domain.IndexEntry {
	return &domain.IndexEntry{
		InternalID: point.GetId().GetUuid(),
		ExternalID: externalID,
		Vector:     denseData(point.GetVectors().GetVector()),
		Payload:    fromValueMap(point.GetPayload()),
	}
}

// denseData читает плотный вектор. Старые версии Qdrant заполняют устаревшее поле data.
func denseData(v *qdrant.VectorOutput) []float32 {
	if dense := v.GetDense(); dense != nil {
		return dense.GetData()
	}
	return v.GetData()
}

func fromValueMap(values map[string]*qdrant.Value) domain.Payload {
	payload := make(domain.Payload, len(values))
	for key, value := range values {
		payload[key] = fromValue(value)
	}
	return payload
}

// fromValue переводит значение payload Qdrant в обычные типы Go.
func fromValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(kind.StructValue.GetFields()))
		for key, field := range kind.StructValue.GetFields() {
			out[key] = fromValue(field)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			out = append(out, fromValue(item))
		}
		return out
	default:
		return nil
	}
}

func toQdrantDistance(d domain.DistanceMetric) (qdrant.Distance, error) {
	switch d {
	case domain.DistanceCosine:
		return qdrant.Distance_Cosine, nil
	case domain.DistanceDot:
		return qdrant.Distance_Dot, nil
	default:
		return qdrant.Distance_UnknownDistance, fmt.Errorf("%w: unsupported distance %q, want cosine or dot", e.ErrConfiguration, d)
	}
}

func fromQdrantDistance(d qdrant.Distance) domain.DistanceMetric {
	switch d {
	case qdrant.Distance_Cosine:
		return domain.DistanceCosine
	case qdrant.Distance_Dot:
		return domain.DistanceDot
	default:
		return domain.DistanceMetric(strings.ToLower(d.String()))
	}
}

func clonePayload(p domain.Payload) domain.Payload {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}
