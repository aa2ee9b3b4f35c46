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

// TestSubPipeline_RoundTrip covers S4: a root pipeline [producer, call,
// sink] where "call" targets a one-step sub-pipeline [double]. The
// producer's value must come back out the other side of the call,
// doubled, and reach sink for real (not merely recorded in history).
func TestSubPipeline_RoundTrip(t *testing.T) {
	const outerID, calleeID ids.PipelineID = 0, 1
	const producerID, callID, sinkID, doubleID ids.StepID = 0, 1, 2, 3

	producer := leafStep(producerID, "producer")
	call := &compiled.Step{ID: callID, Position: 1, Ref: "call", ModuleKind: compiled.SubPipeline, TargetPipeline: calleeID}
	sink := leafStep(sinkID, "sink")
	outer := &compiled.Pipeline{Path: "outer", ID: outerID, StepBase: 0, Steps: []*compiled.Step{producer, call, sink}}

	double := &compiled.Step{ID: doubleID, Position: 0, Ref: "double", ModuleKind: compiled.Leaf}
	callee := &compiled.Pipeline{Path: "callee", ID: calleeID, StepBase: doubleID, Steps: []*compiled.Step{double}}

	owners := map[ids.StepID]ids.PipelineID{
		producerID: outerID,
		callID:     outerID,
		sinkID:     outerID,
		doubleID:   calleeID,
	}

	log := zerolog.Nop()
	traces := trace.NewTable()
	rr := NewRuntimeRouter(owners, log)
	alloc := ids.NewAllocator()

	outerRouter := NewPipelineRouter(outer, history.New(), traces, rr.Inbox(), log)
	calleeRouter := NewPipelineRouter(callee, history.New(), traces, rr.Inbox(), log)
	rr.RegisterSink(outerID, outerRouter.Inbox())
	rr.RegisterSink(calleeID, calleeRouter.Inbox())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *modabi.Request, 1)
	sinkCh, err := StartLeaf(ctx, sink, recordingModule(received), outerRouter.Responses(), alloc)
	require.NoError(t, err)
	outerRouter.SetSink(2, sinkCh)

	doubleCh, err := StartLeaf(ctx, double, transformModule(func(n float64) float64 { return n * 2 }), calleeRouter.Responses(), alloc)
	require.NoError(t, err)
	calleeRouter.SetSink(0, doubleCh)

	producerCh, err := StartLeaf(ctx, producer, producerModule(producerID, value.Number(3), 7), outerRouter.Responses(), alloc)
	require.NoError(t, err)
	outerRouter.SetSink(0, producerCh)

	go rr.Run(ctx)
	go outerRouter.Run(ctx)
	go calleeRouter.Run(ctx)

	select {
	case req := <-received:
		v, _ := req.Payload.Value()
		n, _ := v.AsNumber()
		require.Equal(t, float64(6), n)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink to receive the sub-pipeline's return value")
	}

	require.Eventually(t, func() bool { return traces.Len() == 0 }, time.Second, 10*time.Millisecond,
		"trace table must be empty once the call has fully returned")
}

// TestSubPipeline_SharedCalleeDistinctTraces covers S6: two separate
// traces calling into the same shared sub-pipeline must not cross-talk.
func TestSubPipeline_SharedCalleeDistinctTraces(t *testing.T) {
	const outerID, calleeID ids.PipelineID = 0, 1
	const producerID, callID, sinkID, doubleID ids.StepID = 0, 1, 2, 3

	producer1 := leafStep(producerID, "producer")
	call := &compiled.Step{ID: callID, Position: 1, Ref: "call", ModuleKind: compiled.SubPipeline, TargetPipeline: calleeID}
	sink := leafStep(sinkID, "sink")
	outer := &compiled.Pipeline{Path: "outer", ID: outerID, StepBase: 0, Steps: []*compiled.Step{producer1, call, sink}}

	double := &compiled.Step{ID: doubleID, Position: 0, Ref: "double", ModuleKind: compiled.Leaf}
	callee := &compiled.Pipeline{Path: "callee", ID: calleeID, StepBase: doubleID, Steps: []*compiled.Step{double}}

	owners := map[ids.StepID]ids.PipelineID{
		producerID: outerID,
		callID:     outerID,
		sinkID:     outerID,
		doubleID:   calleeID,
	}

	log := zerolog.Nop()
	traces := trace.NewTable()
	rr := NewRuntimeRouter(owners, log)
	alloc := ids.NewAllocator()

	outerRouter := NewPipelineRouter(outer, history.New(), traces, rr.Inbox(), log)
	calleeRouter := NewPipelineRouter(callee, history.New(), traces, rr.Inbox(), log)
	rr.RegisterSink(outerID, outerRouter.Inbox())
	rr.RegisterSink(calleeID, calleeRouter.Inbox())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *modabi.Request, 2)
	sinkCh, err := StartLeaf(ctx, sink, recordingModule(received), outerRouter.Responses(), alloc)
	require.NoError(t, err)
	outerRouter.SetSink(2, sinkCh)

	doubleCh, err := StartLeaf(ctx, double, transformModule(func(n float64) float64 { return n * 2 }), calleeRouter.Responses(), alloc)
	require.NoError(t, err)
	calleeRouter.SetSink(0, doubleCh)

	// One producer emitting two distinct trace ids through the same outer
	// entry step, sequentially, each exercising the shared sub-pipeline.
	multiProducer := modabi.ModuleFunc(func(ctx context.Context, id ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 1)
		announce <- reqCh
		for i, v := range []float64{3, 5} {
			resp := &modabi.Response{Origin: id, Payload: value.Ok(value.Number(v)), Trace: modabi.TraceContext{ID: ids.TraceID(i + 1)}}
			select {
			case output <- resp:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	})
	producerCh, err := StartLeaf(ctx, producer1, multiProducer, outerRouter.Responses(), alloc)
	require.NoError(t, err)
	outerRouter.SetSink(0, producerCh)

	go rr.Run(ctx)
	go outerRouter.Run(ctx)
	go calleeRouter.Run(ctx)

	got := map[float64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case req := <-received:
			v, _ := req.Payload.Value()
			n, _ := v.AsNumber()
			got[n] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for result %d", i)
		}
	}
	require.True(t, got[6])
	require.True(t, got[10])
}
