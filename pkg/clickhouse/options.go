package clickhouse

import "time"

// Option configures a Client.
type Option func(*options)

type options struct {
	host     string
	port     int
	database string
	user     string
	password string

	maxOpen  int
	maxIdle  int
	lifetime time.Duration

	dialTimeout time.Duration
	readTimeout time.Duration
	maxExecTime time.Duration

	useHTTP        bool
	asyncInsert    bool
	waitForAsync   bool
	ensureDatabase bool
}

func defaultOptions() options {
	return options{
		port:        9000,
		database:    "default",
		maxOpen:     10,
		maxIdle:     5,
		lifetime:    5 * time.Minute,
		dialTimeout: 5 * time.Second,
		readTimeout: 10 * time.Second,
	}
}

// WithAddr sets the server host and native (or HTTP) port.
func WithAddr(host string, port int) Option {
	return func(o *options) {
		o.host = host
		if port > 0 {
			o.port = port
		}
	}
}

func WithDatabase(database string) Option {
	return func(o *options) {
		if database != "" {
			o.database = database
		}
	}
}

func WithCredentials(user, password string) Option {
	return func(o *options) {
		o.user = user
		o.password = password
	}
}

// WithPool sets the database/sql pool limits. Zero values keep the defaults.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) Option {
	return func(o *options) {
		if maxOpen > 0 {
			o.maxOpen = maxOpen
		}
		if maxIdle >= 0 {
			o.maxIdle = maxIdle
		}
		if lifetime > 0 {
			o.lifetime = lifetime
		}
	}
}

func WithTimeouts(dial, read time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = dial
		o.readTimeout = read
	}
}

// WithMaxExecutionTime caps query execution time on the server.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(o *options) { o.maxExecTime = d }
}

// WithHTTP switches the driver to the HTTP interface.
func WithHTTP(useHTTP bool) Option {
	return func(o *options) { o.useHTTP = useHTTP }
}

// WithAsyncInsert enables server-side async inserts.
func WithAsyncInsert(enabled, wait bool) Option {
	return func(o *options) {
		o.asyncInsert = enabled
		o.waitForAsync = wait
	}
}

// WithEnsureDatabase creates the configured database before connecting to it.
func WithEnsureDatabase(ensure bool) Option {
	return func(o *options) { o.ensureDatabase = ensure }
}
