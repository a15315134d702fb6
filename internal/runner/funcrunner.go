package runner

import "context"

// FuncRunner adapts a function to the Runner interface. The function writes
// messages to emit and returns the stream's terminal error; emit blocks when
// the consumer falls behind and ctx cancellation must be honoured.
type FuncRunner struct {
	BackendName string
	Run         func(ctx context.Context, opts Options, emit func(Message) bool) error
}

func (f *FuncRunner) Name() string {
	if f.BackendName != "" {
		return f.BackendName
	}
	return "func"
}

func (f *FuncRunner) Execute(ctx context.Context, opts Options) (Stream, error) {
	stream := newChanStream(16)
	go func() {
		defer close(stream.ch)
		emit := func(m Message) bool {
			select {
			case stream.ch <- m:
				return true
			case <-ctx.Done():
				return false
			}
		}
		stream.err = f.Run(ctx, opts, emit)
	}()
	return stream, nil
}
