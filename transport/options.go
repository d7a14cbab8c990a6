package transport

import "time"

// Logger is the logging collaborator the protocol engine depends on. The
// core never writes to stdio directly; logx.New wraps logrus to satisfy
// this interface for real deployments, and tests can supply a no-op or
// recording implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Options holds the per-transport configuration surface. Every
// Connection spawned by a Transport inherits the Transport's Options at
// creation time.
type Options struct {
	ConnectInterval        time.Duration
	ConnectTimeout         time.Duration
	ConnectionTimeout      time.Duration
	KeepAlivePingTime      time.Duration
	MaxRetries             uint32
	RetryInterval          time.Duration
	UseOrdering            bool
	Debug                  bool
	ExitOnReceiveException bool
	Logger                 Logger
}

// DefaultOptions returns the configuration defaults from the transport's
// external interface table.
func DefaultOptions() Options {
	return Options{
		ConnectInterval:        2 * time.Second,
		ConnectTimeout:         10 * time.Second,
		ConnectionTimeout:      40 * time.Second,
		KeepAlivePingTime:      15 * time.Second,
		MaxRetries:             10,
		RetryInterval:          500 * time.Millisecond,
		UseOrdering:            true,
		Debug:                  false,
		ExitOnReceiveException: false,
		Logger:                 nopLogger{},
	}
}

// Option configures a Transport at construction time.
type Option func(*Options)

func WithConnectInterval(d time.Duration) Option {
	return func(o *Options) { o.ConnectInterval = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

func WithConnectionTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectionTimeout = d }
}

func WithKeepAlivePingTime(d time.Duration) Option {
	return func(o *Options) { o.KeepAlivePingTime = d }
}

func WithMaxRetries(n uint32) Option {
	return func(o *Options) { o.MaxRetries = n }
}

func WithRetryInterval(d time.Duration) Option {
	return func(o *Options) { o.RetryInterval = d }
}

func WithOrdering(enabled bool) Option {
	return func(o *Options) { o.UseOrdering = enabled }
}

func WithDebug(enabled bool) Option {
	return func(o *Options) { o.Debug = enabled }
}

func WithExitOnReceiveException(enabled bool) Option {
	return func(o *Options) { o.ExitOnReceiveException = enabled }
}

func WithLogger(l Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
