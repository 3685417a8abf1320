// Package orchestrator owns the set of live calls, drives each one's
// lifecycle state machine, and issues the CRM gateway calls the state
// machine requires at each step (spec.md §4.5). Per-call work is
// serialized on a worker goroutine keyed by correlation id so that events
// for one call commit strictly in arrival order, while distinct calls run
// concurrently (spec.md §5).
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axelmiami/callbridge/internal/ami"
	"github.com/axelmiami/callbridge/internal/config"
	"github.com/axelmiami/callbridge/internal/crm"
)

// CRMGateway is the subset of *crm.Gateway the orchestrator drives.
// Declaring it here (rather than depending on the concrete type directly)
// lets tests substitute a fake.
type CRMGateway interface {
	FindContactByPhone(ctx context.Context, phone string) (*crm.Contact, error)
	GetEntitiesFor(ctx context.Context, contactID, phone string, catalog map[string]config.EntityTypeEndpoint) (crm.EntitiesByKind, error)
	RegisterCall(ctx context.Context, userID, phoneNumber string, typeCode int, lineNumber string) (*crm.RegisterResult, error)
	ShowCallWindow(ctx context.Context, callID, userID string) error
	HideCallWindow(ctx context.Context, callID, userID string) error
	FinishCall(ctx context.Context, callID, userID string, durationSeconds int) (*crm.FinishResult, error)
	AttachRecording(ctx context.Context, callID, path string) error
	ListActivityBindings(ctx context.Context, activityID string) ([]crm.Binding, error)
	AddBinding(ctx context.Context, activityID string, entityTypeID int, entityID string) error
	RemoveBinding(ctx context.Context, activityID string, entityTypeID int, entityID string) error
	UpdateActivity(ctx context.Context, activityID string, fields map[string]string) error
	GetLead(ctx context.Context, leadID string) (*crm.Lead, error)
	UpdateLead(ctx context.Context, leadID string, fields map[string]string) error
	CreateLead(ctx context.Context, fields map[string]string) (string, error)
	LookupUserByInternalExt(ctx context.Context, ext string) (string, error)
	CallAdminID() string
}

// PBXActions is the subset of *ami.Client the orchestrator needs to issue
// outbound actions (the CALLERID(name) rewrite on enrichment).
type PBXActions interface {
	SetVariable(channel, variable, value string, timeout time.Duration) error
}

// AudioProcessor converts a raw recording into the configured compressed
// format (internal/audio).
type AudioProcessor interface {
	Encode(rawPath string) (string, error)
}

// Orchestrator owns the live CallState set and dispatches PBX events to
// the per-call worker responsible for each one.
type Orchestrator struct {
	cfg   *config.Provider
	crm   CRMGateway
	pbx   PBXActions
	audio AudioProcessor

	actionTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	group   errgroup.Group
}

type worker struct {
	state *CallState
	inbox chan ami.Dispatch
}

// New builds an Orchestrator. actionTimeout bounds blocking PBX actions
// issued mid-event-handling (e.g. the Setvar rewrite).
func New(cfg *config.Provider, gateway CRMGateway, pbx PBXActions, audioProc AudioProcessor) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		crm:           gateway,
		pbx:           pbx,
		audio:         audioProc,
		actionTimeout: 5 * time.Second,
		workers:       make(map[string]*worker),
	}
}

// Run consumes dispatches until the channel closes or ctx is canceled,
// routing each one to its call's worker, spawning a new worker on a
// qualifying NewChannel.
func (o *Orchestrator) Run(ctx context.Context, dispatches <-chan ami.Dispatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-dispatches:
			if !ok {
				return
			}
			o.route(ctx, d)
		}
	}
}

func (o *Orchestrator) route(ctx context.Context, d ami.Dispatch) {
	o.mu.Lock()
	w, exists := o.workers[d.CorrelationID]
	if !exists {
		if d.Kind != ami.KindNewChannel {
			o.mu.Unlock()
			log.Printf("[Orchestrator] dropping %s for unknown call %s", d.Kind, d.CorrelationID)
			return
		}
		exten := d.Headers["Exten"]
		if !o.cfg.ExtenAllowed(exten) {
			o.mu.Unlock()
			log.Printf("[Orchestrator] source extension %s not allowed, ignoring new call %s", exten, d.CorrelationID)
			return
		}
		depth := o.cfg.Daemon.WorkerQueueDepth
		if depth <= 0 {
			depth = 64
		}
		w = &worker{state: newCallState(d.CorrelationID), inbox: make(chan ami.Dispatch, depth)}
		o.workers[d.CorrelationID] = w
		o.group.Go(func() error {
			o.runWorker(ctx, w)
			return nil
		})
	}
	o.mu.Unlock()

	select {
	case w.inbox <- d:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) runWorker(ctx context.Context, w *worker) {
	for {
		select {
		case d := <-w.inbox:
			o.handleDispatch(ctx, w.state, d)
			if w.state.Status == StatusFinalized {
				o.mu.Lock()
				delete(o.workers, w.state.CorrelationID)
				o.mu.Unlock()
				return
			}
		case <-ctx.Done():
			// cmd/callbridged cancels ctx only once the shutdown grace
			// period has elapsed. Drain what is already queued (its CRM
			// calls now fail fast) and retire; the call is abandoned
			// (spec.md §5).
			select {
			case d := <-w.inbox:
				o.handleDispatch(ctx, w.state, d)
			default:
				o.mu.Lock()
				delete(o.workers, w.state.CorrelationID)
				o.mu.Unlock()
				return
			}
		}
	}
}

// Wait blocks until every in-flight worker has exited or the timeout
// elapses, whichever comes first.
func (o *Orchestrator) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		o.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("[Orchestrator] shutdown grace period elapsed with workers still in flight")
	}
}

// handleDispatch applies one event to a call's state machine (spec.md
// §4.5). K3 guard violations (event not permitted from the current state)
// are logged and ignored; a kind with no case here is ignored silently.
// Neither aborts the call.
func (o *Orchestrator) handleDispatch(ctx context.Context, c *CallState, d ami.Dispatch) {
	switch d.Kind {
	case ami.KindNewChannel:
		o.handleNewChannel(ctx, c, d)
	case ami.KindTimeRule:
		c.timeRule = d.Headers["TimeRule"]
	case ami.KindTimeGroup:
		c.timeGroup = d.Headers["TimeGroup"]
	case ami.KindIVRChoose:
		c.ivrChoice = d.Headers["IVRchoose"]
	case ami.KindQueueJoin:
		if c.Status != StatusEnriched {
			log.Printf("[Orchestrator] %s: QueueJoin ignored in state %s", c.CorrelationID, c.Status)
			return
		}
		o.handleQueueJoin(ctx, c, d)
	case ami.KindDialBegin:
		if c.Status != StatusQueued && c.Status != StatusRinging {
			log.Printf("[Orchestrator] %s: DialBegin ignored in state %s", c.CorrelationID, c.Status)
			return
		}
		o.handleDialBegin(ctx, c, d)
	case ami.KindDialEnd:
		if c.Status != StatusRinging {
			log.Printf("[Orchestrator] %s: DialEnd ignored in state %s", c.CorrelationID, c.Status)
			return
		}
		o.handleDialEnd(c, d)
	case ami.KindAgentConnect:
		if c.Status != StatusRinging {
			log.Printf("[Orchestrator] %s: AgentConnect ignored in state %s", c.CorrelationID, c.Status)
			return
		}
		o.handleAgentConnect(ctx, c, d)
	case ami.KindAgentComplete:
		if c.Status != StatusAnswered {
			log.Printf("[Orchestrator] %s: AgentComplete ignored in state %s", c.CorrelationID, c.Status)
			return
		}
		o.handleAgentComplete(c, d)
	case ami.KindVarSet:
		o.handleVarSet(c, d)
	case ami.KindHangup:
		o.handleHangup(ctx, c, d)
	}
}
