package iec104

import (
	"crypto/tls"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultReconnectRetries  = 0
	DefaultReconnectInterval = 1 * time.Minute
)

// DefaultConnectTimeout mirrors the t0 default from spec.md §3.
const DefaultConnectTimeout = 10 * time.Second

/*
ClientOption is the builder-style configuration surface for a CS104
master, kept from the teacher's client_option.go (URL normalization of
the server address, chained Set* methods, AutoReconnectRule) and
extended with the ALParams/APCIParameters the k/w engine needs.
*/
func NewClientOption(server string) (*ClientOption, error) {
	if len(server) > 0 && server[0] == ':' {
		server = "127.0.0.1" + server
	}
	if !strings.Contains(server, "://") {
		server = "tcp://" + server
	}
	remoteURL, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	return &ClientOption{
		server:         remoteURL,
		connectTimeout: DefaultConnectTimeout,
		autoReconnectRule: &AutoReconnectRule{
			retries:  DefaultReconnectRetries,
			interval: DefaultReconnectInterval,
		},
		params: DefaultCS104Params(),
		apci:   DefaultAPCIParameters(),
		tc:     nil,
	}, nil
}

type ClientOption struct {
	server            *url.URL
	connectTimeout    time.Duration
	autoReconnectRule *AutoReconnectRule

	params *ALParams
	apci   *APCIParameters

	tc *tls.Config
}

// AutoReconnectRule controls redialing after a lost connection:
// retries attempts (0 disables), interval apart.
type AutoReconnectRule struct {
	retries  int
	interval time.Duration
}

func NewAutoReconnectRule(retries int, interval time.Duration) *AutoReconnectRule {
	return &AutoReconnectRule{retries: retries, interval: interval}
}

func (o *ClientOption) SetConnectTimeout(timeout time.Duration) *ClientOption {
	if timeout > 0 {
		o.connectTimeout = timeout
	}
	return o
}

func (o *ClientOption) SetAutoReconnectRule(rule *AutoReconnectRule) *ClientOption {
	if rule == nil {
		return o
	}
	if rule.retries < 0 {
		rule.retries = DefaultReconnectRetries
	}
	if rule.interval < 0 {
		rule.interval = DefaultReconnectInterval
	}
	o.autoReconnectRule = rule
	return o
}

func (o *ClientOption) SetTLS(tc *tls.Config) *ClientOption {
	o.tc = tc
	return o
}

func (o *ClientOption) SetALParams(p *ALParams) *ClientOption {
	if p != nil {
		o.params = p
	}
	return o
}

func (o *ClientOption) SetAPCIParameters(a *APCIParameters) *ClientOption {
	if a != nil {
		o.apci = a
	}
	return o
}
