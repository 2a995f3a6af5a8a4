package query

import (
	"context"
	"fmt"

	"github.com/louisbranch/adminhub/internal/platform/apiclient"
	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	apperrors "github.com/louisbranch/adminhub/internal/platform/errors"
	otelcodes "go.opentelemetry.io/otel/codes"
)

// MutationDef declares a write endpoint.
type MutationDef[A, R any] struct {
	Name    string
	Request func(args A) apiclient.Request
	// Decode turns a successful response into R. Nil leaves R zero, for
	// endpoints that answer with an empty body.
	Decode func(resp *apiclient.Response) (R, error)
	// InvalidatesTags lists the tags to invalidate once the server accepted
	// the write.
	InvalidatesTags func(args A, result R) []Tag
	Hooks           Hooks[A, R]
	// Optimistic computes events applied before the request is sent and the
	// events that revert them.
	Optimistic func(state *entitystore.State, args A) (apply, undo []entitystore.Event)
	// Rollback dispatches the undo events when the request fails. Without it
	// the optimistic change stays until the next full fetch.
	Rollback bool
	Store    entitystore.Dispatcher
}

// Mutation is a declared write endpoint bound to a Client.
type Mutation[A, R any] struct {
	client *Client
	def    MutationDef[A, R]
}

// DefineMutation binds def to c. It panics when def lacks a name or a
// request builder.
func DefineMutation[A, R any](c *Client, def MutationDef[A, R]) *Mutation[A, R] {
	if c == nil || def.Name == "" || def.Request == nil {
		panic(fmt.Sprintf("query: incomplete mutation %q", def.Name))
	}
	return &Mutation[A, R]{client: c, def: def}
}

// Name returns the mutation name.
func (m *Mutation[A, R]) Name() string { return m.def.Name }

// Run applies the optimistic events, performs the request and runs the
// lifecycle hooks. A request the server accepted invalidates its tags even
// when the response cannot be decoded; only request failures roll back.
// After a Reset of the client, the result and rollback events are not
// dispatched.
func (m *Mutation[A, R]) Run(ctx context.Context, args A) (R, error) {
	var zero R
	c := m.client
	if !c.begin() {
		return zero, ErrClosed
	}
	defer c.end()
	startEpoch := c.currentEpoch()

	var undo []entitystore.Event
	if m.def.Optimistic != nil && m.def.Store != nil {
		var apply []entitystore.Event
		apply, undo = m.def.Optimistic(m.def.Store.Snapshot(), args)
		dispatch(m.def.Store, apply)
	}
	if m.def.Hooks.OnStart != nil {
		dispatch(m.def.Store, m.def.Hooks.OnStart(args))
	}

	ctx, span := c.tracer.Start(ctx, "mutation "+m.def.Name)
	defer span.End()

	resp, err := c.transport.Do(ctx, m.def.Request(args))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if m.def.Rollback && c.currentEpoch() == startEpoch {
			dispatch(m.def.Store, undo)
		}
		m.fail(args, err)
		return zero, err
	}

	result := zero
	var decodeErr error
	if m.def.Decode != nil {
		result, decodeErr = m.def.Decode(resp)
	}
	if m.def.InvalidatesTags != nil {
		defer c.Invalidate(m.def.InvalidatesTags(args, result)...)
	}
	if decodeErr != nil {
		span.RecordError(decodeErr)
		span.SetStatus(otelcodes.Error, string(apperrors.CodeOf(decodeErr)))
		m.fail(args, decodeErr)
		return zero, decodeErr
	}
	if m.def.Hooks.OnResult != nil && c.currentEpoch() == startEpoch {
		dispatch(m.def.Store, m.def.Hooks.OnResult(args, result))
	}
	return result, nil
}

func (m *Mutation[A, R]) fail(args A, err error) {
	if m.def.Hooks.OnError != nil {
		dispatch(m.def.Store, m.def.Hooks.OnError(args, err))
	}
}
