// Package ipchecker extracts client IP addresses from HTTP requests and
// restricts operational endpoints to a trusted subnet.
package ipchecker

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/patric-chuzhbe/emergency/internal/logger"
)

// IPChecker extracts a client's IP address and validates it against an
// optional trusted subnet. Forwarding headers are honoured only when the
// connection comes from one of the trusted proxies.
type IPChecker struct {
	trustedSubnet  *net.IPNet
	trustedProxies []*net.IPNet
}

type initOptions struct {
	trustedProxies []string
}

// InitOption customizes New.
type InitOption func(*initOptions)

// WithTrustedProxies lists the CIDRs of reverse proxies whose X-Real-IP and
// X-Forwarded-For headers are believed.
func WithTrustedProxies(cidrs ...string) InitOption {
	return func(options *initOptions) {
		options.trustedProxies = append(options.trustedProxies, cidrs...)
	}
}

// New creates an IPChecker for the trusted subnet given in CIDR notation
// (e.g. "10.0.0.0/8"). An empty string disables the subnet: Check then
// always reports false.
func New(trustedSubnet string, optionsProto ...InitOption) (*IPChecker, error) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	checker := &IPChecker{}

	if trustedSubnet != "" {
		_, allowedNet, err := net.ParseCIDR(trustedSubnet)
		if err != nil {
			return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
		}
		checker.trustedSubnet = allowedNet
	}

	for _, cidr := range options.trustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, proxyNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
		}
		checker.trustedProxies = append(checker.trustedProxies, proxyNet)
	}

	return checker, nil
}

// Check verifies whether clientIP belongs to the trusted subnet.
func (checker *IPChecker) Check(clientIP net.IP) bool {
	return checker.trustedSubnet != nil && clientIP != nil && checker.trustedSubnet.Contains(clientIP)
}

func (checker *IPChecker) isTrustedProxy(ip net.IP) bool {
	for _, proxyNet := range checker.trustedProxies {
		if proxyNet.Contains(ip) {
			return true
		}
	}
	return false
}

// GetClientIP returns the address of the connecting peer. When the peer is
// a trusted proxy, the "X-Real-IP" header wins, then the right-most
// "X-Forwarded-For" entry that is not itself a trusted proxy.
func (checker *IPChecker) GetClientIP(request *http.Request) (net.IP, error) {
	peer, err := RemoteIP(request)
	if err != nil {
		return nil, err
	}
	if !checker.isTrustedProxy(peer) {
		return peer, nil
	}

	if ip := net.ParseIP(strings.TrimSpace(request.Header.Get("X-Real-IP"))); ip != nil {
		return ip, nil
	}

	hops := strings.Split(request.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			break
		}
		if !checker.isTrustedProxy(ip) {
			return ip, nil
		}
	}

	return peer, nil
}

// ClientKey returns the client IP as a string, or the raw RemoteAddr when
// it cannot be parsed. It is used to key per-client state.
func (checker *IPChecker) ClientKey(request *http.Request) string {
	ip, err := checker.GetClientIP(request)
	if err != nil {
		return request.RemoteAddr
	}
	return ip.String()
}

// RemoteIP parses the address of the connecting peer, ignoring any headers.
func RemoteIP(request *http.Request) (net.IP, error) {
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/RemoteIP(): error while `net.SplitHostPort()` calling: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/RemoteIP(): unparsable remote address %q", request.RemoteAddr)
	}
	return ip, nil
}

// RemoteKey is ClientKey for a checker without trusted proxies.
func RemoteKey(request *http.Request) string {
	ip, err := RemoteIP(request)
	if err != nil {
		return request.RemoteAddr
	}
	return ip.String()
}

// IsTrustedSubnetEmpty returns true if the IPChecker was initialized
// without a trusted subnet.
func (checker *IPChecker) IsTrustedSubnetEmpty() bool {
	return checker.trustedSubnet == nil
}

// RestrictToTrustedSubnet answers 403 to clients outside the trusted subnet.
// With no subnet configured nobody is trusted.
func (checker *IPChecker) RestrictToTrustedSubnet(h http.Handler) http.Handler {
	return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		clientIP, err := checker.GetClientIP(request)
		if err != nil || !checker.Check(clientIP) {
			logger.FromContext(request.Context()).Infow("request from untrusted address rejected",
				"remote_addr", request.RemoteAddr,
				"path", request.URL.Path,
			)
			http.Error(response, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		h.ServeHTTP(response, request)
	})
}
