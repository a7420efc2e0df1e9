package connector

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// appInfo is the metadata advertised to the wallet through the URL
// fragment, alongside the host origin and the session token.
type appInfo struct {
	Name    string `json:"name,omitempty"`
	Logo    string `json:"logo,omitempty"`
	Origin  string `json:"origin"`
	Session string `json:"session"`
}

// parseWalletURL validates the wallet address. A fragment already present
// is discarded; the connector owns the fragment.
func parseWalletURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoTargetURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("wallet url must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("wallet url missing host: %q", raw)
	}
	u.Fragment = ""
	return u, nil
}

// originOf reduces a URL to its scheme://host origin.
func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// fragment encodes the connection metadata the wallet reads on load.
func (b *Bridge) fragment() string {
	info := appInfo{Name: b.appName, Logo: b.appLogo, Origin: b.appOrigin, Session: b.session}
	data, _ := json.Marshal(info)
	return string(data)
}
