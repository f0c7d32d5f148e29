package providers

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrUnsafeBaseURL marks a credential base_url the router will not call.
var ErrUnsafeBaseURL = errors.New("base_url is not allowed")

// CheckBaseURL accepts an empty value or an https URL whose host is a name
// or a public address. Names are checked again at dial time by
// PublicOnlyDialer, since they can resolve anywhere.
func CheckBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeBaseURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be https", ErrUnsafeBaseURL)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo is not accepted", ErrUnsafeBaseURL)
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return fmt.Errorf("%w: host is empty", ErrUnsafeBaseURL)
	case host == "localhost", strings.HasSuffix(host, ".localhost"):
		return fmt.Errorf("%w: %s is a loopback name", ErrUnsafeBaseURL, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && !isPublic(addr) {
		return fmt.Errorf("%w: %s is not a public address", ErrUnsafeBaseURL, host)
	}
	return nil
}

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified() &&
		!cgnat.Contains(addr)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// PublicOnlyDialer refuses connections to non-public addresses after name
// resolution.
func PublicOnlyDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			return checkDialAddress(address)
		},
	}
}

func checkDialAddress(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeBaseURL, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeBaseURL, err)
	}
	if !isPublic(addr) {
		return fmt.Errorf("%w: refusing to dial %s", ErrUnsafeBaseURL, host)
	}
	return nil
}

// NewPublicHTTPClient is the upstream client for production: the default
// transport settings with PublicOnlyDialer underneath. Environment proxies
// are not used so the dial check sees the upstream address.
func NewPublicHTTPClient() *http.Client {
	client := defaultHTTPClient()
	transport := client.Transport.(*http.Transport)
	transport.Proxy = nil
	transport.DialContext = PublicOnlyDialer(30 * time.Second).DialContext
	transport.TLSHandshakeTimeout = 10 * time.Second
	return client
}
