package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Protocol identifies the traffic an endpoint carries.
type Protocol string

// Recognized endpoint protocols.
const (
	ProtoRTP     Protocol = "rtp"
	ProtoRTPRS8M Protocol = "rtp+rs8m"
	ProtoRS8M    Protocol = "rs8m"
	ProtoRTPLDPC Protocol = "rtp+ldpc"
	ProtoLDPC    Protocol = "ldpc"
	ProtoRTCP    Protocol = "rtcp"
	ProtoRTSP    Protocol = "rtsp"
)

var knownProtocols = map[Protocol]bool{
	ProtoRTP:     true,
	ProtoRTPRS8M: true,
	ProtoRS8M:    true,
	ProtoRTPLDPC: true,
	ProtoLDPC:    true,
	ProtoRTCP:    true,
	ProtoRTSP:    true,
}

// Endpoint is one parsed endpoint URI: proto://host:port[/path].
// Port zero means ephemeral.
type Endpoint struct {
	Proto Protocol
	Host  string
	Port  int
	Path  string
}

// String renders the endpoint back to URI form.
func (e Endpoint) String() string {
	s := fmt.Sprintf("%s://%s", e.Proto, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
	if e.Path != "" {
		s += e.Path
	}
	return s
}

// IsSourceEndpoint reports whether the endpoint carries media packets.
func (e Endpoint) IsSourceEndpoint() bool {
	return e.Proto == ProtoRTP || e.Proto == ProtoRTPRS8M || e.Proto == ProtoRTPLDPC
}

// IsRepairEndpoint reports whether the endpoint carries repair packets.
func (e Endpoint) IsRepairEndpoint() bool {
	return e.Proto == ProtoRS8M || e.Proto == ProtoLDPC
}

// ParseEndpoint parses an endpoint URI.
func ParseEndpoint(uri string) (Endpoint, error) {
	var ep Endpoint

	sep := strings.Index(uri, "://")
	if sep < 0 {
		return ep, fmt.Errorf("config: endpoint %q has no protocol", uri)
	}

	proto := Protocol(uri[:sep])
	if !knownProtocols[proto] {
		return ep, fmt.Errorf("config: endpoint %q has unknown protocol %q", uri, proto)
	}

	rest := uri[sep+3:]
	if rest == "" {
		return ep, fmt.Errorf("config: endpoint %q has no address", uri)
	}

	path := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		path = rest[i:]
		rest = rest[:i]
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return ep, fmt.Errorf("config: endpoint %q has invalid address: %w", uri, err)
	}
	if host == "" {
		return ep, fmt.Errorf("config: endpoint %q has empty host", uri)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return ep, fmt.Errorf("config: endpoint %q has invalid port %q", uri, portStr)
	}

	ep = Endpoint{Proto: proto, Host: host, Port: port, Path: path}

	logrus.WithFields(logrus.Fields{
		"function": "ParseEndpoint",
		"proto":    string(proto),
		"host":     host,
		"port":     port,
	}).Debug("Parsed endpoint")

	return ep, nil
}
