package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/xraph/saga"
)

// Contract describes one registered (service, operation) pair.
type Contract struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	Request   string `json:"request"`
	Response  string `json:"response"`
}

// Registry holds the known operation contracts. New operations are added by
// registering them, never by editing a switch.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]Contract
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]Contract)}
}

// Has reports whether service.operation is registered.
func (r *Registry) Has(service, operation string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.contracts[service+"."+operation]
	return ok
}

// Lookup returns the contract of service.operation.
func (r *Registry) Lookup(service, operation string) (Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[service+"."+operation]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s.%s", saga.ErrUnknownOperation, service, operation)
	}
	return c, nil
}

// Contracts returns every contract sorted by target.
func (r *Registry) Contracts() []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}

// Services returns the distinct service names, sorted.
func (r *Registry) Services() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range r.Contracts() {
		if !seen[c.Service] {
			seen[c.Service] = true
			out = append(out, c.Service)
		}
	}
	return out
}

// Operation is a typed handle on a registered contract.
type Operation[Req, Resp any] struct {
	Service string
	Name    string
}

// Register records the contract service.operation with request type Req and
// response type Resp and returns a typed handle for calling it.
func Register[Req, Resp any](reg *Registry, service, operation string) Operation[Req, Resp] {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.contracts[service+"."+operation] = Contract{
		Service:   service,
		Operation: operation,
		Request:   typeName[Req](),
		Response:  typeName[Resp](),
	}
	return Operation[Req, Resp]{Service: service, Name: operation}
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

// Target returns "service.operation".
func (o Operation[Req, Resp]) Target() string { return o.Service + "." + o.Name }

// Invocation builds an invocation of o carrying req, starting from base for
// scope, timeout and idempotency fields.
func (o Operation[Req, Resp]) Invocation(req Req, base Invocation) (*Invocation, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, saga.NewValidationError(o.Target(), "encode request: "+err.Error())
	}
	inv := base
	inv.Service = o.Service
	inv.Operation = o.Name
	inv.Request = raw
	return &inv, nil
}

// Decode parses a raw response into Resp.
func (o Operation[Req, Resp]) Decode(raw []byte) (Resp, error) {
	var resp Resp
	if len(raw) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, &DecodeError{Target: o.Target(), Err: err}
	}
	return resp, nil
}

// Call invokes o through c and decodes the response.
func (o Operation[Req, Resp]) Call(ctx context.Context, c Client, req Req, base Invocation) (Resp, error) {
	var zero Resp
	inv, err := o.Invocation(req, base)
	if err != nil {
		return zero, err
	}
	raw, err := c.Invoke(ctx, inv)
	if err != nil {
		return zero, err
	}
	return o.Decode(raw)
}

// Serve registers a typed in-process handler for o on l.
func (o Operation[Req, Resp]) Serve(l *Local, fn func(ctx context.Context, inv *Invocation, req Req) (Resp, error)) {
	l.Handle(o.Service, o.Name, func(ctx context.Context, inv *Invocation) ([]byte, error) {
		var req Req
		if len(inv.Request) > 0 {
			if err := json.Unmarshal(inv.Request, &req); err != nil {
				return nil, &RejectedError{Target: o.Target(), Status: 400, Body: err.Error()}
			}
		}
		resp, err := fn(ctx, inv, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
}
