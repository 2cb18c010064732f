package llmgen

import (
	"context"
	"fmt"
	"strings"
)

// Fake is a deterministic Generator for tests: it never calls a
// network, and its behavior is driven entirely by Script or Reply so
// test assertions don't depend on wall-clock or model nondeterminism.
type Fake struct {
	// Reply is returned verbatim when Script is nil.
	Reply Response
	// Script, if set, is consulted in order; each call consumes the
	// next entry. Calling Fake more times than len(Script) panics,
	// which surfaces test setup mistakes immediately.
	Script []Response
	calls  int

	// Requests records every request passed to Generate, for
	// assertions on what the caller sent.
	Requests []Request
}

// Generate implements Generator.
func (f *Fake) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	f.Requests = append(f.Requests, req)
	if f.Script == nil {
		return f.Reply, nil
	}
	if f.calls >= len(f.Script) {
		panic(fmt.Sprintf("llmgen.Fake: Generate called %d times, only %d scripted", f.calls+1, len(f.Script)))
	}
	resp := f.Script[f.calls]
	f.calls++
	return resp, nil
}

// EchoGenerator is a trivial Generator used for smoke tests and local
// manual runs without a configured Fake script: it replies with a
// fixed acknowledgement referencing the tail of the incoming history.
type EchoGenerator struct{}

// Generate implements Generator.
func (EchoGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	tail := req.History
	if idx := strings.LastIndexByte(tail, '\n'); idx >= 0 {
		tail = tail[idx+1:]
	}
	return Response{Text: fmt.Sprintf("acknowledged: %s", strings.TrimSpace(tail))}, nil
}
