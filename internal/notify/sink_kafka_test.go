package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestKafkaSink_Send(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewKafkaSink(producer, "notifications")
	n := Notification{
		ID:            uuid.New(),
		Kind:          KindMembershipApproved,
		RecipientType: RecipientEscort,
		RecipientID:   "e-1",
		Title:         "Welcome aboard",
	}

	require.NoError(t, sink.Send(context.Background(), n))
	require.Len(t, producer.records, 1)

	rec := producer.records[0]
	assert.Equal(t, "notifications", rec.Topic)
	assert.Equal(t, "escort:e-1", string(rec.Key))

	var decoded Notification
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, n.ID, decoded.ID)
	assert.Equal(t, KindMembershipApproved, decoded.Kind)
}

func TestKafkaSink_ProduceError(t *testing.T) {
	sink := NewKafkaSink(&fakeProducer{err: errors.New("leader not available")}, "notifications")
	err := sink.Send(context.Background(), Notification{ID: uuid.New()})
	assert.ErrorContains(t, err, "leader not available")
}
