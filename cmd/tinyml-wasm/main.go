//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"syscall/js"
	"time"

	"tiny-ml-lab/internal/gridworld"
	"tiny-ml-lab/internal/kmeans"
	"tiny-ml-lab/internal/regression"
)

const pushEvery = 50 * time.Millisecond

// engine is the surface shared by the three engines that the page drives.
type engine interface {
	StartContinuous(ctx context.Context) bool
	Stop() bool
	StartStepMode() bool
	StopStepMode() bool
	Reset()
	Done() <-chan struct{}
	SetInterval(time.Duration)
}

var (
	registerOnce sync.Once
	handlerMu    sync.Mutex
	onSnapshot   js.Value

	engines   map[string]engine
	snapshots map[string]func() any
	advancers map[string]func() (any, bool)
)

func main() {
	if err := setup(); err != nil {
		fmt.Printf("tinyml: %v\n", err)
		return
	}
	registerCallbacks()
	// Prevent the program from exiting.
	select {}
}

func setup() error {
	grid, err := gridworld.NewTrainer(gridworld.DefaultConfig(), nil)
	if err != nil {
		return err
	}
	reg, err := regression.NewTrainer(regression.DefaultConfig(), nil)
	if err != nil {
		return err
	}
	km, err := kmeans.NewClusterer(kmeans.DefaultConfig(), nil)
	if err != nil {
		return err
	}
	engines = map[string]engine{"maze": grid, "regression": reg, "kmeans": km}
	snapshots = map[string]func() any{
		"maze":       func() any { return grid.Snapshot() },
		"regression": func() any { return reg.Snapshot() },
		"kmeans":     func() any { return km.Snapshot() },
	}
	advancers = map[string]func() (any, bool){
		"maze":       func() (any, bool) { return grid.AdvanceStep() },
		"regression": func() (any, bool) { return reg.AdvanceStep() },
		"kmeans":     func() (any, bool) { return km.AdvanceStep() },
	}
	return nil
}

func registerCallbacks() {
	registerOnce.Do(func() {
		js.Global().Set("tinymlRegisterSnapshotHandler", js.FuncOf(registerSnapshotHandler))
		js.Global().Set("tinymlStart", js.FuncOf(start))
		js.Global().Set("tinymlStop", js.FuncOf(stop))
		js.Global().Set("tinymlStartStep", js.FuncOf(startStep))
		js.Global().Set("tinymlAdvance", js.FuncOf(advance))
		js.Global().Set("tinymlStopStep", js.FuncOf(stopStep))
		js.Global().Set("tinymlReset", js.FuncOf(reset))
		js.Global().Set("tinymlSetSpeed", js.FuncOf(setSpeed))
		js.Global().Set("tinymlSnapshot", js.FuncOf(snapshot))
	})
}

func registerSnapshotHandler(this js.Value, args []js.Value) any {
	if len(args) != 1 || args[0].Type() != js.TypeFunction {
		fmt.Println("tinymlRegisterSnapshotHandler requires a function argument")
		return nil
	}
	handlerMu.Lock()
	onSnapshot = args[0]
	handlerMu.Unlock()
	return nil
}

// lookup resolves the engine named by the first argument.
func lookup(fn string, args []js.Value) (string, engine, bool) {
	if len(args) == 0 || args[0].Type() != js.TypeString {
		fmt.Printf("%s requires an engine name\n", fn)
		return "", nil, false
	}
	name := args[0].String()
	e, ok := engines[name]
	if !ok {
		fmt.Printf("%s: unknown engine %q\n", fn, name)
	}
	return name, e, ok
}

// start begins continuous mode and pushes snapshots to the registered handler
// until the run ends.
func start(this js.Value, args []js.Value) any {
	name, e, ok := lookup("tinymlStart", args)
	if !ok {
		return false
	}
	if !e.StartContinuous(context.Background()) {
		return false
	}
	done := e.Done()
	go func() {
		ticker := time.NewTicker(pushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				push(name)
				return
			case <-ticker.C:
				push(name)
			}
		}
	}()
	return true
}

func stop(this js.Value, args []js.Value) any {
	_, e, ok := lookup("tinymlStop", args)
	return ok && e.Stop()
}

func startStep(this js.Value, args []js.Value) any {
	name, e, ok := lookup("tinymlStartStep", args)
	if !ok || !e.StartStepMode() {
		return false
	}
	return encode(snapshots[name]())
}

// advance performs one phase transition and returns the snapshot as JSON, or
// null outside step mode.
func advance(this js.Value, args []js.Value) any {
	name, _, ok := lookup("tinymlAdvance", args)
	if !ok {
		return nil
	}
	snap, advanced := advancers[name]()
	if !advanced {
		return nil
	}
	return encode(snap)
}

func stopStep(this js.Value, args []js.Value) any {
	_, e, ok := lookup("tinymlStopStep", args)
	return ok && e.StopStepMode()
}

func reset(this js.Value, args []js.Value) any {
	name, e, ok := lookup("tinymlReset", args)
	if !ok {
		return nil
	}
	e.Reset()
	return encode(snapshots[name]())
}

// setSpeed takes the tick interval in milliseconds.
func setSpeed(this js.Value, args []js.Value) any {
	_, e, ok := lookup("tinymlSetSpeed", args)
	if !ok || len(args) < 2 || args[1].Type() != js.TypeNumber {
		return false
	}
	e.SetInterval(time.Duration(args[1].Float() * float64(time.Millisecond)))
	return true
}

func snapshot(this js.Value, args []js.Value) any {
	name, _, ok := lookup("tinymlSnapshot", args)
	if !ok {
		return nil
	}
	return encode(snapshots[name]())
}

func push(name string) {
	handlerMu.Lock()
	handler := onSnapshot
	handlerMu.Unlock()
	if handler.IsUndefined() || handler.IsNull() {
		return
	}
	handler.Invoke(name, encode(snapshots[name]()))
}

func encode(v any) any {
	payload, err := json.Marshal(v)
	if err != nil {
		fmt.Printf("encode snapshot: %v\n", err)
		return nil
	}
	return string(payload)
}
