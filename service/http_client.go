package service

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/relayhub/relayhub/common"

	"golang.org/x/net/proxy"
)

var httpClient *http.Client

func InitHttpClient() {
	if common.RelayTimeoutSeconds == 0 {
		httpClient = &http.Client{}
	} else {
		httpClient = &http.Client{
			Timeout: time.Duration(common.RelayTimeoutSeconds) * time.Second,
		}
	}
}

func GetHttpClient() *http.Client {
	if httpClient == nil {
		InitHttpClient()
	}
	return httpClient
}

// NewProxyHttpClient builds a client that routes through the account's
// outbound proxy. http, https and socks5 schemes are accepted.
func NewProxyHttpClient(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return GetHttpClient(), nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(common.RelayTimeoutSeconds) * time.Second

	switch parsed.Scheme {
	case "http", "https":
		return &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(parsed),
			},
			Timeout: timeout,
		}, nil
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{
				User:     parsed.User.Username(),
				Password: password,
			}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		return &http.Client{
			Transport: &http.Transport{
				Dial: dialer.Dial,
			},
			Timeout: timeout,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
}
