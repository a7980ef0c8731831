package fuzzing

import (
	"context"
	"errors"
	"fmt"
	"laptop-scraper/internal/components/telemetry"
	"math/rand"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Target represents an object of some sort, it contains state
// and contains methods for mutating its state.
//
// Any possible mutation to the state of the target is called a "step",
// fuzzing works by deterministically randomly choosing steps (and their inputs)
// to perform, then examining the state to determine if any invariants are violated.
//
// As such, all possible steps should be exposed to the fuzzer as methods satisfying
// the signature:
//
// `Step*(ctx context.Context, res *Results) error`
//
// Invariants can be verified within a step itself, and if one is violated, the step
// should call res.Fail. A returned error means the path could not continue at all
// (ex. test setup failed).
//
// Upstream errors are not failures, they are injected on purpose.
//
// If a method matching the signature:
//
// `OnEnd(ctx context.Context, res *Results)`
//
// is present, it will be called at the end of the fuzz path.
type Target interface{}

func getTargetMethods(target Target) (steps []reflect.Method, onEnd reflect.Method) {
	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	resType := reflect.TypeOf(&Results{})
	errType := reflect.TypeOf((*error)(nil)).Elem()

	t := reflect.TypeOf(target)
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		methodType := method.Type

		// the receiver is the first input
		if methodType.NumIn() != 3 || methodType.In(1) != ctxType || methodType.In(2) != resType {
			continue
		}
		if method.Name == "OnEnd" {
			onEnd = method
			continue
		}
		if !strings.HasPrefix(method.Name, "Step") {
			continue
		}
		if methodType.NumOut() != 1 || methodType.Out(0) != errType {
			continue
		}

		steps = append(steps, method)
	}

	return steps, onEnd
}

// Results contains the state of the fuzzing.
type Results struct {
	failures []error
	steps    []string
}

func (r *Results) Fail(err error) {
	r.failures = append(r.failures, err)
}

// Failures returns every violated invariant, in the order they were found.
func (r *Results) Failures() []error {
	return r.failures
}

func (r *Results) format() string {
	var out strings.Builder

	out.WriteString("====== CHECKS FAILED ======\n\n")
	for _, err := range r.failures {
		out.WriteString(fmt.Sprintf("\t- %v\n", err))
	}
	out.WriteString("\nsteps:\n")
	for i, step := range r.steps {
		out.WriteString(fmt.Sprintf("\t%d. %s\n", i+1, step))
	}

	return out.String()
}

type TargetProvider interface {
	CreateTarget(tel telemetry.API, rndm *rand.Rand) (Target, error)
}

// F is a fuzzing job on a given fuzz target.
type F struct {
	tel telemetry.API

	provider TargetProvider
	steps    []reflect.Method
	onEnd    reflect.Method

	minSteps int
	maxSteps int
}

// New creates a new fuzzing job, every explored path will take [minSteps, maxSteps) steps.
func New(tel telemetry.API, provider TargetProvider, minSteps, maxSteps int) (F, error) {
	if minSteps < 0 || maxSteps <= minSteps {
		return F{}, fmt.Errorf("invalid step range [%d, %d)", minSteps, maxSteps)
	}

	f := F{
		tel:      telemetry.NewScopedAPI("fuzzer", tel),
		provider: provider,
		minSteps: minSteps,
		maxSteps: maxSteps,
	}

	target, err := provider.CreateTarget(telemetry.NoopAPI{}, rand.New(rand.NewSource(0)))
	if err != nil {
		return F{}, err
	}
	f.steps, f.onEnd = getTargetMethods(target)
	if len(f.steps) == 0 {
		return F{}, fmt.Errorf("target %T has no steps", target)
	}

	return f, nil
}

func (f F) runStep(target Target, step reflect.Method, ctx context.Context, results *Results) error {
	outs := step.Func.Call([]reflect.Value{
		reflect.ValueOf(target),
		reflect.ValueOf(ctx),
		reflect.ValueOf(results),
	})
	val := outs[0].Interface()
	if val == nil {
		return nil
	}
	return val.(error)
}

func (f F) runOnEnd(target Target, ctx context.Context, results *Results) {
	if !f.onEnd.Func.IsValid() {
		return
	}
	f.onEnd.Func.Call([]reflect.Value{
		reflect.ValueOf(target),
		reflect.ValueOf(ctx),
		reflect.ValueOf(results),
	})
}

// Run replays a single path, the same path always takes the same steps.
func (f F) Run(ctx context.Context, tel telemetry.API, path Path) (*Results, error) {
	rndm := rand.New(rand.NewSource(path.Seed))
	target, err := f.provider.CreateTarget(tel, rndm)
	if err != nil {
		return nil, err
	}

	results := &Results{}
	for i := int64(0); i < path.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := f.steps[rndm.Intn(len(f.steps))]
		results.steps = append(results.steps, step.Name)

		err := f.runStep(target, step, ctx, results)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name, err)
		}
	}
	f.runOnEnd(target, ctx, results)

	return results, nil
}

// fuzzWorker does the job of exploring the state space of a given fuzz target.
func (f F) fuzzWorker(ctx context.Context, cancel func(), count *uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		seed := rand.Int63()
		steps := f.minSteps + rand.Intn(f.maxSteps-f.minSteps)
		path := Path{Seed: seed, Steps: int64(steps)}

		results, err := f.Run(ctx, telemetry.NoopAPI{}, path)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			f.tel.ReportBroken("encountered fatal error", err, path.String())
			cancel()
			return
		}

		atomic.AddUint64(count, 1)

		if len(results.failures) == 0 {
			continue
		}

		f.tel.ReportBroken(fmt.Sprintf("%s\npath: %s\n", results.format(), path))
		cancel()
		return
	}
}

// Replay runs a single path with full telemetry and reports the outcome.
func (f F) Replay(ctx context.Context, path Path) {
	f.tel.ReportDebug("running single fuzz path", path.String())

	results, err := f.Run(ctx, f.tel, path)
	if err != nil {
		f.tel.ReportBroken("encountered fatal error", err)
		return
	}
	if len(results.failures) == 0 {
		f.tel.ReportDebug("no failures")
		return
	}
	f.tel.ReportBroken(results.format())
}

// StartFuzzTest explores random paths on every cpu, it blocks until ctx is done or
// a path fails.
func (f F) StartFuzzTest(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cpus := runtime.NumCPU()
	f.tel.ReportDebug("starting fuzzing on all threads", cpus)

	var count uint64
	for range cpus {
		go f.fuzzWorker(ctx, cancel, &count)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tel.ReportCount("fuzzer.paths", int64(atomic.LoadUint64(&count)))
		}
	}
}

// Path represents a seed and the number of steps to take, it identifies a single
// exploration of a fuzz target. It implements pflag.Value as "<seed>:<steps>".
type Path struct {
	Seed  int64
	Steps int64
}

func (p Path) String() string {
	return fmt.Sprintf("%d:%d", p.Seed, p.Steps)
}

func (p *Path) Set(text string) error {
	segments := strings.Split(text, ":")
	if len(segments) != 2 {
		return fmt.Errorf("parse fuzz path '%s': expected exactly one ':'", text)
	}

	seed, err := strconv.ParseInt(segments[0], 10, 64)
	if err != nil {
		return fmt.Errorf("parse fuzz path: %w", err)
	}
	steps, err := strconv.ParseInt(segments[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parse fuzz path: %w", err)
	}
	if steps < 0 {
		return fmt.Errorf("parse fuzz path: negative step count %d", steps)
	}

	p.Seed = seed
	p.Steps = steps
	return nil
}

func (p *Path) Type() string {
	return "seed:steps"
}
