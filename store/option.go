package store

// Option is a function that configures a catalog store. It is used in
// `store.Init`.
type Option func(*Options)

type Options struct {
	Path string
}

func NewOptions(opts ...Option) Options {
	var o Options

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Path sets the database file path for the store.
func Path(p string) Option {
	return func(o *Options) {
		o.Path = p
	}
}
