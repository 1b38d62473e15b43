package retriever

import (
	"net/url"
	"strings"
)

// defaultUnreliable lists domains deprecated or marked generally unreliable
// on Wikipedia's perennial sources list.
var defaultUnreliable = []string{
	"breitbart.com",
	"dailymail.co.uk",
	"globalresearch.ca",
	"infowars.com",
	"lifesitenews.com",
	"mintpressnews.com",
	"naturalnews.com",
	"occupydemocrats.com",
	"rt.com",
	"sputniknews.com",
	"thegatewaypundit.com",
	"thesun.co.uk",
	"veteranstoday.com",
	"zerohedge.com",
}

// DomainFilter rejects URLs whose host is, or is a subdomain of, a denied domain.
type DomainFilter struct {
	deny map[string]bool
}

// NewDomainFilter returns a filter with the default deny list plus extra domains.
func NewDomainFilter(extra ...string) *DomainFilter {
	f := &DomainFilter{deny: make(map[string]bool)}
	for _, d := range append(append([]string(nil), defaultUnreliable...), extra...) {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			f.deny[d] = true
		}
	}
	return f
}

// Allowed reports whether rawURL may be used as evidence.
func (f *DomainFilter) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for {
		if f.deny[host] {
			return false
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return true
		}
		host = host[i+1:]
	}
}
