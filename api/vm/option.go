package vm

import (
	"github.com/NadimPy/virtualization-implementation/config"
	"github.com/NadimPy/virtualization-implementation/store"
)

type Option func(*Options)

type Options struct {
	Settings config.Settings
	Store    store.Store

	Disks    diskManager
	Seeds    seedBuilder
	Domains  domainManager
	NAT      natManager
	Resolver ipResolver
	Events   eventPublisher

	MaxConcurrent int64
}

func newOptions(opts ...Option) Options {
	o := Options{
		MaxConcurrent: 8,
		Events:        nopPublisher{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func Settings(s config.Settings) Option {
	return func(o *Options) {
		o.Settings = s
	}
}

func Store(s store.Store) Option {
	return func(o *Options) {
		o.Store = s
	}
}

func Disks(d diskManager) Option {
	return func(o *Options) {
		o.Disks = d
	}
}

func Seeds(s seedBuilder) Option {
	return func(o *Options) {
		o.Seeds = s
	}
}

func Domains(d domainManager) Option {
	return func(o *Options) {
		o.Domains = d
	}
}

func NAT(n natManager) Option {
	return func(o *Options) {
		o.NAT = n
	}
}

func Resolver(r ipResolver) Option {
	return func(o *Options) {
		o.Resolver = r
	}
}

func Events(e eventPublisher) Option {
	return func(o *Options) {
		o.Events = e
	}
}

func MaxConcurrent(n int64) Option {
	return func(o *Options) {
		o.MaxConcurrent = n
	}
}
