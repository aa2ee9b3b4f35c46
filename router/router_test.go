package router

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carbonopen/labrun/compiled"
	"github.com/carbonopen/labrun/history"
	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
	"github.com/carbonopen/labrun/trace"
	"github.com/carbonopen/labrun/value"
)

// producerModule emits one response carrying v, on its own, as soon as it
// is started, tagged with a fixed trace id.
func producerModule(stepID ids.StepID, v value.Value, traceID ids.TraceID) modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, id ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 1)
		announce <- reqCh
		select {
		case output <- &modabi.Response{Origin: id, Payload: value.Ok(v), Trace: modabi.TraceContext{ID: traceID}}:
		case <-ctx.Done():
		}
		<-ctx.Done()
	})
}

// transformModule applies fn to every request's numeric payload and emits
// exactly one response per request.
func transformModule(fn func(float64) float64) modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, id ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 4)
		announce <- reqCh
		for {
			select {
			case req := <-reqCh:
				v, _ := req.Payload.Value()
				n, _ := v.AsNumber()
				resp := &modabi.Response{Origin: id, Payload: value.Ok(value.Number(fn(n))), Trace: req.Trace}
				select {
				case output <- resp:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
}

// recordingModule stores every request it receives on received, without
// emitting anything further.
func recordingModule(received chan *modabi.Request) modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, id ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 4)
		announce <- reqCh
		for {
			select {
			case req := <-reqCh:
				received <- req
			case <-ctx.Done():
				return
			}
		}
	})
}

func leafStep(id ids.StepID, ref string) *compiled.Step {
	return &compiled.Step{ID: id, Position: int(id), Ref: ref, ModuleKind: compiled.Leaf}
}

func newTestRouter(t *testing.T, p *compiled.Pipeline) *PipelineRouter {
	t.Helper()
	return NewPipelineRouter(p, history.New(), trace.NewTable(), make(chan *modabi.Envelope, 16), zerolog.Nop())
}

// S1: a linear pipeline routes a producer's output through a transform to
// a sink, following the implicit origin+1 rule.
func TestPipelineRouter_LinearPipeline(t *testing.T) {
	producer := leafStep(0, "producer")
	transform := leafStep(1, "double")
	sink := leafStep(2, "sink")
	p := &compiled.Pipeline{Path: "root", Steps: []*compiled.Step{producer, transform, sink}}

	r := newTestRouter(t, p)
	alloc := ids.NewAllocator()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *modabi.Request, 1)
	sinkCh, err := StartLeaf(ctx, sink, recordingModule(received), r.Responses(), alloc)
	require.NoError(t, err)
	r.SetSink(2, sinkCh)

	transformCh, err := StartLeaf(ctx, transform, transformModule(func(n float64) float64 { return n * 2 }), r.Responses(), alloc)
	require.NoError(t, err)
	r.SetSink(1, transformCh)

	producerCh, err := StartLeaf(ctx, producer, producerModule(producer.ID, value.Number(3), 1), r.Responses(), alloc)
	require.NoError(t, err)
	r.SetSink(0, producerCh)

	go r.Run(ctx)

	select {
	case req := <-received:
		v, _ := req.Payload.Value()
		n, _ := v.AsNumber()
		require.Equal(t, float64(6), n)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink to receive")
	}
}

// S2: a step's response carries an explicit attach, overriding origin+1.
func TestPipelineRouter_AttachOverride(t *testing.T) {
	producer := leafStep(0, "producer")
	skipped := leafStep(1, "skipped")
	sink := leafStep(2, "sink")
	p := &compiled.Pipeline{Path: "root", Steps: []*compiled.Step{producer, skipped, sink}}

	r := newTestRouter(t, p)
	alloc := ids.NewAllocator()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *modabi.Request, 1)
	sinkCh, err := StartLeaf(ctx, sink, recordingModule(received), r.Responses(), alloc)
	require.NoError(t, err)
	r.SetSink(2, sinkCh)

	skippedReceived := make(chan *modabi.Request, 1)
	skippedCh, err := StartLeaf(ctx, skipped, recordingModule(skippedReceived), r.Responses(), alloc)
	require.NoError(t, err)
	r.SetSink(1, skippedCh)

	// producer attaches directly to "sink", bypassing "skipped".
	producerModuleWithAttach := modabi.ModuleFunc(func(ctx context.Context, id ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 1)
		announce <- reqCh
		select {
		case output <- &modabi.Response{Origin: id, Payload: value.Ok(value.Number(9)), Trace: modabi.TraceContext{ID: 1}, Attach: "sink"}:
		case <-ctx.Done():
		}
		<-ctx.Done()
	})
	producerCh, err := StartLeaf(ctx, producer, producerModuleWithAttach, r.Responses(), alloc)
	require.NoError(t, err)
	r.SetSink(0, producerCh)

	go r.Run(ctx)

	select {
	case req := <-received:
		v, _ := req.Payload.Value()
		n, _ := v.AsNumber()
		require.Equal(t, float64(9), n)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink to receive")
	}

	select {
	case <-skippedReceived:
		t.Fatal("skipped step must not have run")
	case <-time.After(100 * time.Millisecond):
	}
}

// S5: an unresolved attach reference is a fatal routing error.
func TestPipelineRouter_UnresolvedAttachPanics(t *testing.T) {
	producer := leafStep(0, "producer")
	p := &compiled.Pipeline{Path: "root", Steps: []*compiled.Step{producer}}

	r := newTestRouter(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	badAttach := modabi.ModuleFunc(func(ctx context.Context, id ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 1)
		announce <- reqCh
		output <- &modabi.Response{Origin: id, Payload: value.OkEmpty(), Trace: modabi.TraceContext{ID: 1}, Attach: "does-not-exist"}
		<-ctx.Done()
	})
	producerCh, err := StartLeaf(ctx, producer, badAttach, r.Responses(), ids.NewAllocator())
	require.NoError(t, err)
	r.SetSink(0, producerCh)

	require.Panics(t, func() {
		r.Run(ctx)
	})
}
