package varserver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/orkestr8/statemachine/lang/ast"
)

// NATSConfig configures the NATS-backed Adapter, mirroring
// quadgatefoundation-fluxor's ClusterNATSConfig (pkg/core/eventbus_cluster_nats.go):
// a URL, a subject prefix, and a request timeout, all optional.
type NATSConfig struct {
	URL            string
	Prefix         string
	RequestTimeout time.Duration
}

func (c NATSConfig) url() string {
	if c.URL == "" {
		return nats.DefaultURL
	}
	return c.URL
}

func (c NATSConfig) prefix() string {
	if c.Prefix == "" {
		return "statemachine"
	}
	return c.Prefix
}

func (c NATSConfig) timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 5 * time.Second
	}
	return c.RequestTimeout
}

// NATS is an Adapter that talks to an external variable-server process
// over NATS subjects:
//
//	<prefix>.find           request/reply, path -> handle
//	<prefix>.var.<handle>   publish to write/notify; request+".get" to read
//
// Address mapping and request/reply plumbing follow
// quadgatefoundation-fluxor/pkg/core/eventbus_cluster_nats.go.
type NATS struct {
	cfg NATSConfig
	nc  *nats.Conn

	mu   sync.Mutex
	subs map[int]*nats.Subscription

	notifyOut chan Notification
}

// NewNATS returns a NATS adapter; call Open to connect.
func NewNATS(cfg NATSConfig) *NATS {
	return &NATS{
		cfg:       cfg,
		subs:      map[int]*nats.Subscription{},
		notifyOut: make(chan Notification, 64),
	}
}

func (n *NATS) Open() error {
	nc, err := nats.Connect(n.cfg.url())
	if err != nil {
		return fmt.Errorf("connect to variable server: %w", err)
	}
	n.nc = nc
	return nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		_ = sub.Unsubscribe()
	}
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

func (n *NATS) subject(handle int) string {
	return fmt.Sprintf("%s.var.%d", n.cfg.prefix(), handle)
}

func (n *NATS) FindByName(path string) (int, error) {
	msg, err := n.nc.Request(n.cfg.prefix()+".find", []byte(path), n.cfg.timeout())
	if err != nil {
		return Invalid, fmt.Errorf("find %s: %w", path, err)
	}
	var resp struct {
		Handle int `json:"handle"`
	}
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Invalid, err
	}
	if resp.Handle == 0 {
		return Invalid, ErrNotFound
	}
	return resp.Handle, nil
}

func (n *NATS) Get(handle int) (ast.Value, error) {
	msg, err := n.nc.Request(n.subject(handle)+".get", nil, n.cfg.timeout())
	if err != nil {
		return ast.Value{}, err
	}
	var w wireValue
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		return ast.Value{}, err
	}
	return w.toValue(), nil
}

func (n *NATS) Set(handle int, v ast.Value) error {
	payload, err := json.Marshal(fromValue(v))
	if err != nil {
		return err
	}
	return n.nc.Publish(n.subject(handle), payload)
}

func (n *NATS) SubscribeModifications(handle int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[handle]; ok {
		return nil
	}
	sub, err := n.nc.Subscribe(n.subject(handle), func(msg *nats.Msg) {
		n.notifyOut <- Notification{Handle: handle}
	})
	if err != nil {
		return err
	}
	n.subs[handle] = sub
	return nil
}

func (n *NATS) Notifications() <-chan Notification { return n.notifyOut }

// wireValue is the JSON wire form of ast.Value exchanged with the
// external variable server.
type wireValue struct {
	Kind string  `json:"kind"`
	Int  int64   `json:"int,omitempty"`
	Sh   int16   `json:"short,omitempty"`
	Flt  float64 `json:"float,omitempty"`
	Str  string  `json:"string,omitempty"`
}

func fromValue(v ast.Value) wireValue {
	return wireValue{Kind: v.Kind.String(), Int: v.Int, Sh: v.Sh, Flt: v.Flt, Str: v.Str}
}

func (w wireValue) toValue() ast.Value {
	switch w.Kind {
	case "short":
		return ast.Value{Kind: ast.KindShort, Sh: w.Sh}
	case "float":
		return ast.Value{Kind: ast.KindFloat, Flt: w.Flt}
	case "string":
		return ast.Value{Kind: ast.KindString, Str: w.Str}
	default:
		return ast.Value{Kind: ast.KindInt, Int: w.Int}
	}
}
