package evloop

// ExceptionHandler receives errors raised inside scheduled callbacks,
// together with a best-effort description of the callback and the user
// context it carried. It never stops the loop.
type ExceptionHandler func(err error, info CallbackInfo)

// CallbackInfo describes the callback an ExceptionHandler is being told
// about, for logging/tracing purposes.
type CallbackInfo struct {
	Context map[string]any
}

// loopOptions holds the resolved configuration for a Loop.
type loopOptions struct {
	clock            Clock
	logger           Logger
	exceptionHandler ExceptionHandler
	selector         Selector
	debug            bool
	fdTableCapacity  int
	eventBatchSize   int
}

// Option configures a Loop at construction time.
type Option interface {
	apply(*loopOptions)
}

type optionFunc func(*loopOptions)

func (f optionFunc) apply(o *loopOptions) { f(o) }

// WithClock overrides the default SystemClock.
func WithClock(c Clock) Option {
	return optionFunc(func(o *loopOptions) { o.clock = c })
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l Logger) Option {
	return optionFunc(func(o *loopOptions) { o.logger = l })
}

// WithExceptionHandler overrides the default handler, which logs the error
// and continues.
func WithExceptionHandler(h ExceptionHandler) Option {
	return optionFunc(func(o *loopOptions) { o.exceptionHandler = h })
}

// WithSelector overrides the platform-default Selector. Mainly useful for
// tests that want a fake Selector.
func WithSelector(s Selector) Option {
	return optionFunc(func(o *loopOptions) { o.selector = s })
}

// WithDebug enables verbose scheduling traces (the single recognized
// environment/CLI surface named in spec.md §6).
func WithDebug(enabled bool) Option {
	return optionFunc(func(o *loopOptions) { o.debug = enabled })
}

// WithSelectorSizing overrides the platform selector's fd-table capacity
// hint and epoll event batch size (SPEC_FULL.md §3's two LoopConfig sizing
// knobs). Either argument may be zero to keep that knob's default; it has
// no effect if WithSelector supplies an explicit Selector.
func WithSelectorSizing(fdTableCapacity, eventBatchSize int) Option {
	return optionFunc(func(o *loopOptions) {
		o.fdTableCapacity = fdTableCapacity
		o.eventBatchSize = eventBatchSize
	})
}

func resolveOptions(opts []Option) (*loopOptions, error) {
	cfg := &loopOptions{
		clock:  NewSystemClock(),
		logger: NewNoopLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	if cfg.exceptionHandler == nil {
		logger := cfg.logger
		cfg.exceptionHandler = func(err error, info CallbackInfo) {
			logger.Error("unhandled callback error", F("error", err), F("context", info.Context))
		}
	}
	if cfg.selector == nil {
		sel, err := newPlatformSelector(cfg.fdTableCapacity, cfg.eventBatchSize)
		if err != nil {
			return nil, err
		}
		cfg.selector = sel
	}
	return cfg, nil
}
