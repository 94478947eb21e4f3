package vigilib

import "sync"

// Result is a decoded value or the failure that took its place. The
// unilateral handler and every Future resolve to one.
type Result struct {
	Value map[string]any
	Err   error
}

// wrapResponse applies the uniform wrapping rule: a value carrying the
// reserved "error" key is delivered as a failure, anything else as a
// success.
func wrapResponse(v map[string]any) Result {
	if _, ok := v[keyError]; ok {
		return Result{Err: &ResponseError{Response: v}}
	}
	return Result{Value: v}
}

// Future is the single-assignment result slot of one submitted
// command. It is fulfilled exactly once; later fulfillments are
// dropped.
type Future struct {
	once sync.Once
	done chan struct{}
	res  Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func failedFuture(err error) *Future {
	fut := newFuture()
	fut.fulfill(Result{Err: err})
	return fut
}

func (f *Future) fulfill(res Result) {
	f.once.Do(func() {
		f.res = res
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available and returns it.
func (f *Future) Wait() (map[string]any, error) {
	<-f.done
	return f.res.Value, f.res.Err
}

type UnilateralHandler interface {
	HandleUnilateral(res Result)
}

type UnilateralHandlerFunc func(res Result)

func (fn UnilateralHandlerFunc) HandleUnilateral(res Result) { fn(res) }
