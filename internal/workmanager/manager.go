// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workmanager implements the Work Manager Loop (C7, spec §4.7): it
// dequeues jobs from the Broker Adapter, invokes the Backend Driver,
// materialises the produced children, re-dispatches them as dependent
// jobs, and aggregates per-work results via PendingResult, finally
// persisting the completed tree and announcing it to the Scenario
// Evaluator.
package workmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/backend"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/broker"
	"github.com/ClusterCockpit/cc-artifactgraph/internal/workerrors"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// internalMessageTTL is the expiration_ts window set on results and
// director messages. Unlike a job request, these don't carry the work's
// own TTL forward (the work the result is FOR has, by definition, already
// finished its backend work) — a generous window just keeps the broker's
// expiration-header bookkeeping uniform across every message type.
const internalMessageTTL = 24 * time.Hour

// backendInvoker is the subset of *backend.Driver the manager needs,
// narrowed to its own interface so tests can substitute a fake (teacher's
// repository.* consumers are mocked the same way via small local interfaces).
type backendInvoker interface {
	Invoke(ctx context.Context, recursionLevel int, timeout time.Duration, req backend.Request) (*backend.Reply, error)
	HealthCheck(ctx context.Context) error
	Wait() <-chan error
}

// childMaterialiser is the subset of *materialise.Materialiser the manager needs.
type childMaterialiser interface {
	MaterialiseChildren(ctx context.Context, parent *schema.Object, descs []backend.ChildDescriptor) ([]*schema.Object, error)
}

// brokerPort is the subset of *broker.Client the manager needs.
type brokerPort interface {
	Publish(ctx context.Context, queue string, msgType broker.MessageType, correlationID, replyTo string, expiresAt time.Time, body []byte) error
	Consume(ctx context.Context, queue string, retryLimit int, handler func(context.Context, *broker.Delivery) error) error
}

// objectPersister is the subset of *store.ObjectRepository the manager needs.
type objectPersister interface {
	InsertObject(ctx context.Context, obj *schema.Object) error
	InsertRel(ctx context.Context, parent, child uuid.UUID, props map[string]interface{}) error
}

// MetricsSink is the manager's optional Prometheus feed (internal/metrics),
// a consumer-defined interface like the rest of this file's dependencies so
// the package doesn't import internal/metrics directly.
type MetricsSink interface {
	JobProcessed(outcome string)
	BackendLatency(objectType string, d time.Duration)
}

// Config bounds the manager's concurrency and names the queues it owns
// (spec §4.6, §4.7).
type Config struct {
	ResultsQueue       string
	DirectorQueue      string
	RetryLimit         int
	RequestConcurrency int
	ResultConcurrency  int
}

// aggregation ties one in-flight PendingResult to the bookkeeping needed
// to route its eventual completion: the correlation id its own parent is
// waiting on (unused at the work root), and whether it's the work root at
// all (in which case completion is announced to the director queue
// instead of published upward).
type aggregation struct {
	pr               *broker.PendingResult
	ownCorrelationID string
	isEntry          bool
	workID           uuid.UUID
}

// Manager implements C7. One Manager owns every backend this process was
// configured to drive, and consumes both the per-type request queues and
// the shared results queue concurrently.
type Manager struct {
	cfg          Config
	backends     map[string]backendInvoker
	materialiser childMaterialiser
	broker       brokerPort
	store        objectPersister
	metrics      MetricsSink

	pendingMu sync.Mutex
	pending   map[string]*aggregation
}

// SetMetrics attaches a metrics sink after construction; nil (the zero
// value) leaves metrics recording disabled, so cmd/work-manager is the only
// caller that needs to know about internal/metrics at all.
func (m *Manager) SetMetrics(sink MetricsSink) {
	m.metrics = sink
}

// New builds a Manager. backends maps object_type -> the driver that
// handles it (spec §4.6 "distinct backends consume distinct types").
func New(cfg Config, backends map[string]backendInvoker, materialiser childMaterialiser, br brokerPort, store objectPersister) *Manager {
	if cfg.RequestConcurrency <= 0 {
		cfg.RequestConcurrency = 1
	}
	if cfg.ResultConcurrency <= 0 {
		cfg.ResultConcurrency = 1
	}
	return &Manager{
		cfg:          cfg,
		backends:     backends,
		materialiser: materialiser,
		broker:       br,
		store:        store,
		pending:      make(map[string]*aggregation),
	}
}

// NewBackendMap adapts a cmd-wired map of concrete drivers to the
// backendInvoker map New needs. Map element types don't satisfy
// interfaces by assignability the way a single value does, so a caller
// outside this package (cmd/work-manager) cannot build a
// map[string]backendInvoker literal itself; this is the seam that lets it
// hand over *backend.Driver values anyway.
func NewBackendMap(drivers map[string]*backend.Driver) map[string]backendInvoker {
	m := make(map[string]backendInvoker, len(drivers))
	for objectType, d := range drivers {
		m[objectType] = d
	}
	return m
}

// Run declares every queue it owns and consumes until ctx is cancelled or a
// signal arrives (spec §4.7 "Cancellation"). It returns nil on a clean
// shutdown, or an error if a backend process exited unexpectedly (spec
// §4.7 step 2 "backend exit is error").
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	backendErr := make(chan error, 1)

	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("workmanager: received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	for objectType, drv := range m.backends {
		objectType, drv := objectType, drv

		go func() {
			select {
			case err := <-drv.Wait():
				select {
				case backendErr <- fmt.Errorf("workmanager: backend %s exited: %w", objectType, err):
				default:
				}
				cancel()
			case <-ctx.Done():
			}
		}()

		queue := broker.RequestQueueName(objectType)
		for i := 0; i < m.cfg.RequestConcurrency; i++ {
			if err := m.broker.Consume(ctx, queue, m.cfg.RetryLimit, m.handleRequest); err != nil {
				return fmt.Errorf("workmanager: consume %s: %w", queue, err)
			}
		}
	}

	for i := 0; i < m.cfg.ResultConcurrency; i++ {
		// retryLimit=0: a results-queue delivery is an aggregation slot
		// fill-in, not a job under its own retry budget (spec §4.6's
		// retry cap governs job requests).
		if err := m.broker.Consume(ctx, m.cfg.ResultsQueue, 0, m.handleResult); err != nil {
			return fmt.Errorf("workmanager: consume results: %w", err)
		}
	}

	<-ctx.Done()
	select {
	case err := <-backendErr:
		return err
	default:
		return nil
	}
}

// handleRequest implements spec §4.7's per-job sequence steps 3-6 for one
// request-queue delivery (steps 1-2 are the Run/Consume loop above).
func (m *Manager) handleRequest(ctx context.Context, d *broker.Delivery) error {
	if d.Forced != "" {
		return m.forceComplete(ctx, d, d.Forced)
	}

	var req JobRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return fmt.Errorf("workmanager: decode job request: %w", err)
	}

	ttl := d.RemainingTTL()
	if ttl <= 0 {
		return m.forceComplete(ctx, d, "Time out")
	}

	drv, ok := m.backends[req.Object.ObjectType]
	if !ok {
		return workerrors.HardTransient(fmt.Errorf("workmanager: no backend configured for object type %q", req.Object.ObjectType))
	}

	invokeStart := time.Now()
	reply, err := drv.Invoke(ctx, req.Object.RecursionLevel, ttl, backend.Request{
		Object:       req.Object,
		Symbols:      req.CarriedSymbols,
		RelationMeta: req.RelationMeta,
	})
	if m.metrics != nil {
		m.metrics.BackendLatency(req.Object.ObjectType, time.Since(invokeStart))
	}
	if err != nil {
		log.Warnf("workmanager: backend invoke for %s failed: %v", req.Object.ObjectID, err)
		if hcErr := drv.HealthCheck(ctx); hcErr != nil {
			log.Warnf("workmanager: backend %s failed health check after invoke error: %v", req.Object.ObjectType, hcErr)
		}
		return err
	}

	parent := objectFromRequest(&req)

	var own schema.ObjectResult
	var children []*schema.Object
	if reply.IsOk() {
		kids, merr := m.materialiser.MaterialiseChildren(ctx, parent, reply.Ok.Children)
		if merr != nil {
			return merr
		}
		own = schema.NewOkResult(reply.Ok.Symbols, reply.Ok.ObjectMetadata, nil)
		children = kids
	} else {
		own = schema.NewErrorResult(reply.Err)
	}

	return m.registerAndDispatch(ctx, &req, d.CorrelationID, parent, own, children)
}

// registerAndDispatch builds the PendingResult for one completed backend
// invocation, immediately fills in any already-terminal (failed) children,
// dispatches the rest as new jobs, and finalises right away if nothing is
// left to wait for (spec §4.6 "Per-work aggregator").
func (m *Manager) registerAndDispatch(ctx context.Context, req *JobRequest, ownCorrelationID string, parent *schema.Object, own schema.ObjectResult, children []*schema.Object) error {
	childIDs := make([]string, len(children))
	for i := range children {
		childIDs[i] = uuid.NewString()
	}

	pr := broker.NewPendingResult(parent, own, childIDs)
	agg := &aggregation{pr: pr, ownCorrelationID: ownCorrelationID, isEntry: req.IsEntry, workID: req.WorkID}

	for i, child := range children {
		id := childIDs[i]
		if !child.Result.IsOk() {
			// Backend reported this child as failed; it's terminal
			// already, no job to dispatch (spec §4.5 "failed" marker).
			pr.Fill(id, child)
			continue
		}

		m.pendingMu.Lock()
		m.pending[id] = agg
		m.pendingMu.Unlock()

		if err := m.dispatchChild(ctx, req, id, child); err != nil {
			return fmt.Errorf("workmanager: dispatch child of %s: %w", parent.ObjectID, err)
		}
	}

	if pr.Complete() {
		return m.finalize(ctx, agg)
	}
	return nil
}

// dispatchChild re-injects a materialised child as a new job on its
// object type's request queue (spec §4.6 "one job per produced child").
func (m *Manager) dispatchChild(ctx context.Context, parentReq *JobRequest, correlationID string, child *schema.Object) error {
	childReq := JobRequest{
		WorkID: parentReq.WorkID,
		Object: backend.ObjectDescriptor{
			Org:            child.Org,
			ObjectID:       child.ObjectID,
			ObjectType:     child.ObjectType,
			ObjectSubtype:  child.ObjectSubtype,
			RecursionLevel: child.RecursionLevel,
			Size:           child.Size,
			Hashes:         child.Hashes,
			CreatedAt:      child.CreatedAt,
		},
		RowID:          child.ID,
		CarriedSymbols: symbolsOf(child),
		RelationMeta:   child.RelationMeta,
		IsEntry:        false,
		ExpiresAt:      parentReq.ExpiresAt,
	}

	body, err := json.Marshal(childReq)
	if err != nil {
		return fmt.Errorf("workmanager: marshal child job: %w", err)
	}

	queue := broker.RequestQueueName(child.ObjectType)
	return m.broker.Publish(ctx, queue, broker.MessageTypeRequest, correlationID, m.cfg.ResultsQueue, parentReq.ExpiresAt, body)
}

// handleResult fills in one aggregation's child slot from a results-queue
// delivery, finalising the aggregation once every slot is filled (spec
// §4.6 "out-of-order arrivals are the norm").
func (m *Manager) handleResult(ctx context.Context, d *broker.Delivery) error {
	m.pendingMu.Lock()
	agg, ok := m.pending[d.CorrelationID]
	if ok {
		delete(m.pending, d.CorrelationID)
	}
	m.pendingMu.Unlock()

	if !ok {
		log.Warnf("workmanager: result for unknown correlation id %s", d.CorrelationID)
		return nil
	}

	var child schema.Object
	if err := json.Unmarshal(d.Body, &child); err != nil {
		return fmt.Errorf("workmanager: decode child result: %w", err)
	}

	if !agg.pr.Fill(d.CorrelationID, &child) {
		return nil
	}
	return m.finalize(ctx, agg)
}

// finalize persists a fully-assembled aggregation and publishes it onward:
// upward to the parent's correlation id, or at the work root, as a
// director-queue announcement (spec §4.6).
func (m *Manager) finalize(ctx context.Context, agg *aggregation) error {
	assembled := agg.pr.Assemble()

	if err := m.persist(ctx, assembled); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.JobProcessed("ok")
	}

	if agg.isEntry {
		body, err := json.Marshal(DirectorMessage{WorkID: agg.workID})
		if err != nil {
			return fmt.Errorf("workmanager: marshal director message: %w", err)
		}
		return m.broker.Publish(ctx, m.cfg.DirectorQueue, broker.MessageTypeScenarioTrigger, agg.workID.String(), "", time.Now().Add(internalMessageTTL), body)
	}

	body, err := json.Marshal(assembled)
	if err != nil {
		return fmt.Errorf("workmanager: marshal result: %w", err)
	}
	return m.broker.Publish(ctx, m.cfg.ResultsQueue, broker.MessageTypeResult, agg.ownCorrelationID, "", time.Now().Add(internalMessageTTL), body)
}

// forceComplete implements spec §4.7 step 3/4: a delivery past the retry
// cap or already expired is persisted as an error result without ever
// invoking the backend.
func (m *Manager) forceComplete(ctx context.Context, d *broker.Delivery, reason string) error {
	var req JobRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		log.Warnf("workmanager: force-complete (%s): decode job: %v", reason, err)
		return nil
	}

	obj := objectFromRequest(&req)
	obj.Result = schema.NewErrorResult(reason)

	if err := m.persist(ctx, obj); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.JobProcessed(forcedOutcome(reason))
	}

	if req.IsEntry {
		body, err := json.Marshal(DirectorMessage{WorkID: req.WorkID})
		if err != nil {
			return fmt.Errorf("workmanager: marshal director message: %w", err)
		}
		return m.broker.Publish(ctx, m.cfg.DirectorQueue, broker.MessageTypeScenarioTrigger, req.WorkID.String(), "", time.Now().Add(internalMessageTTL), body)
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("workmanager: marshal forced result: %w", err)
	}
	return m.broker.Publish(ctx, m.cfg.ResultsQueue, broker.MessageTypeResult, d.CorrelationID, "", time.Now().Add(internalMessageTTL), body)
}

// persist writes obj and its direct child edges (spec §3 "objects"/"rels").
// Every level of the tree persists itself as its own aggregation
// completes, so the whole tree is durable by the time the root announces.
func (m *Manager) persist(ctx context.Context, obj *schema.Object) error {
	if err := m.store.InsertObject(ctx, obj); err != nil {
		return workerrors.SoftTransient(fmt.Errorf("workmanager: persist object %s: %w", obj.ID, err))
	}
	if ok, isOk := obj.Result.Ok(); isOk {
		for _, child := range ok.Children {
			if err := m.store.InsertRel(ctx, obj.ID, child.ID, child.RelationMeta); err != nil {
				return workerrors.SoftTransient(fmt.Errorf("workmanager: persist rel %s->%s: %w", obj.ID, child.ID, err))
			}
		}
	}
	return nil
}

// forcedOutcome maps a forceComplete reason to the metrics label.
func forcedOutcome(reason string) string {
	switch reason {
	case "Time out":
		return "time_out"
	case "Max retries":
		return "max_retries"
	default:
		return "error"
	}
}

func objectFromRequest(req *JobRequest) *schema.Object {
	return &schema.Object{
		ID:             req.RowID,
		ObjectID:       req.Object.ObjectID,
		WorkID:         req.WorkID,
		Org:            req.Object.Org,
		ObjectType:     req.Object.ObjectType,
		ObjectSubtype:  req.Object.ObjectSubtype,
		RecursionLevel: req.Object.RecursionLevel,
		Size:           req.Object.Size,
		Hashes:         req.Object.Hashes,
		CreatedAt:      req.Object.CreatedAt,
		IsEntry:        req.IsEntry,
		RelationMeta:   req.RelationMeta,
	}
}

func symbolsOf(obj *schema.Object) []string {
	if ok, isOk := obj.Result.Ok(); isOk {
		return ok.Symbols
	}
	return nil
}
