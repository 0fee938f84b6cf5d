// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

// Program remote-objects is a command-line utility for interacting with
// remote-object peers. It can serve a demo object graph on a listener, and
// connect to a serving peer to read, write, and call paths on its exposed
// values.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	remoteobjects "github.com/IIIMADDINIII/remote-objects"
	"github.com/IIIMADDINIII/remote-objects/transport"
)

var flags struct {
	Addr   string `flag:"addr,default=localhost:2112,Service address (host:port or socket path)"`
	Config string `flag:"config,Path to a TOML store options file"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for interacting with remote-object peers.",

		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name: "serve",
				Help: `Serve a demo object graph.

The server exposes an object named "demo" with a greeting, a counter, and
an Add function, so that a "call" invocation from another terminal has
something to poke at.`,
				Run: runServe,
			},
			{
				Name:  "call",
				Usage: "<name>[.key...] [json-arg...]",
				Help: `Evaluate a path against an exposed value.

The first argument names an exposed value, optionally followed by dotted
keys. Any further arguments are decoded as JSON and the path target is
invoked with them; without arguments the target is read.`,
				Run: runCall,
			},
			{
				Name:  "set",
				Usage: "<name>.<key...> <json-value>",
				Help:  "Assign a value through an exposed object.",
				Run:   runSet,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// configFile is the TOML shape of the store options. Durations are carried
// in milliseconds.
type configFile struct {
	RemoteObjectPrototype string `toml:"remote-object-prototype"`
	RemoteError           string `toml:"remote-error"`
	NoToString            bool   `toml:"no-to-string"`
	DoNotSyncGC           bool   `toml:"do-not-sync-gc"`
	ScheduleGCAfterMS     int64  `toml:"schedule-gc-after-ms"`
	ScheduleGCAfterCount  int    `toml:"schedule-gc-after-object-count"`
	RequestLatencyMS      int64  `toml:"request-latency-ms"`
}

func loadOptions() (*remoteobjects.Options, error) {
	if flags.Config == "" {
		return nil, nil
	}
	var cf configFile
	if _, err := toml.DecodeFile(flags.Config, &cf); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &remoteobjects.Options{
		RemoteObjectPrototype:      remoteobjects.PrototypePolicy(cf.RemoteObjectPrototype),
		RemoteError:                remoteobjects.ErrorPolicy(cf.RemoteError),
		NoToString:                 cf.NoToString,
		DoNotSyncGC:                cf.DoNotSyncGC,
		ScheduleGCAfterTime:        time.Duration(cf.ScheduleGCAfterMS) * time.Millisecond,
		ScheduleGCAfterObjectCount: cf.ScheduleGCAfterCount,
		RequestLatency:             time.Duration(cf.RequestLatencyMS) * time.Millisecond,
	}, nil
}

// Counter is part of the demo graph served by the serve subcommand.
type Counter struct {
	N int64
}

// Incr adds delta to the counter and returns the new total.
func (c *Counter) Incr(delta int64) int64 { c.N += delta; return c.N }

func runServe(env *command.Env) error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}

	network, addr := transport.SplitAddress(flags.Addr)
	lst, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	log.Printf("Serving on %s %q", network, addr)

	return transport.Loop(env.Context(), transport.NetAccepter(lst), func() *transport.Mux {
		mux := transport.NewMux()
		st := remoteobjects.New(mux, opts)
		if err := st.Expose("demo", map[string]any{
			"greeting": "hello from remote-objects",
			"counter":  &Counter{},
			"Add":      func(a, b int64) int64 { return a + b },
		}); err != nil {
			log.Printf("Expose failed: %v", err)
		}
		return mux
	})
}

// dial connects a mux and store to the configured address.
func dial() (*remoteobjects.Store, *transport.Mux, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, nil, err
	}
	network, addr := transport.SplitAddress(flags.Addr)
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, nil, err
	}
	mux := transport.NewMux().Start(transport.IO(conn, conn))
	return remoteobjects.New(mux, opts), mux, nil
}

// walk follows a dotted path expression from an exposed name.
func walk(st *remoteobjects.Store, expr string) (*remoteobjects.Proxy, error) {
	parts := strings.Split(expr, ".")
	p, err := st.Get(parts[0])
	if err != nil {
		return nil, err
	}
	for _, key := range parts[1:] {
		p = p.Get(key)
	}
	return p, nil
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing path argument")
	}
	st, mux, err := dial()
	if err != nil {
		return err
	}
	defer func() { st.Close(); mux.Stop() }()

	p, err := walk(st, env.Args[0])
	if err != nil {
		return err
	}
	if rest := env.Args[1:]; len(rest) > 0 {
		args := make([]any, len(rest))
		for i, raw := range rest {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return fmt.Errorf("argument %d: %w", i+1, err)
			}
			args[i] = v
		}
		p = p.Call(args...)
	}

	v, err := p.Await(env.Context())
	if err != nil {
		return err
	}
	fmt.Println(render(v))
	return nil
}

func runSet(env *command.Env) error {
	if len(env.Args) != 2 {
		return env.Usagef("Need a path and a JSON value")
	}
	if !strings.Contains(env.Args[0], ".") {
		return env.Usagef("The path must name a property, e.g. demo.greeting")
	}
	var val any
	if err := json.Unmarshal([]byte(env.Args[1]), &val); err != nil {
		return fmt.Errorf("value: %w", err)
	}

	st, mux, err := dial()
	if err != nil {
		return err
	}
	defer func() { st.Close(); mux.Stop() }()

	p, err := walk(st, env.Args[0])
	if err != nil {
		return err
	}
	return p.Set(env.Context(), val)
}

// render formats a result for the terminal: proxies by their tag, anything
// JSON-shaped as JSON.
func render(v any) string {
	switch t := v.(type) {
	case *remoteobjects.Proxy:
		keys, err := t.Keys()
		if err != nil {
			return t.String()
		}
		return fmt.Sprintf("%s keys=%v", t, keys)
	case nil:
		return "null"
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
