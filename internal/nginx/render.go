package nginx

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

var siteTemplate = template.Must(template.New("site").Parse(`server {
    listen {{.Listen}};
    server_name {{.Domain}};

    location / {
        proxy_pass http://{{.Upstream}}:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection 'upgrade';
        proxy_set_header Host $host;
        proxy_cache_bypass $http_upgrade;
    }
}
`))

var (
	serverNameRe = regexp.MustCompile(`server_name\s+([^;]+);`)
	proxyPassRe  = proxyPassPattern()
	// RFC 1123 labels, optional leading wildcard label
	domainRe = regexp.MustCompile(`^(\*\.)?([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// Render returns the site file for domain proxying to port.
func (s *Store) Render(domain string, port int) (string, error) {
	if err := ValidateDomain(domain); err != nil {
		return "", err
	}
	if err := validatePort(port); err != nil {
		return "", err
	}
	var b bytes.Buffer
	err := siteTemplate.Execute(&b, struct {
		Listen   int
		Domain   string
		Upstream string
		Port     int
	}{s.cfg.ListenPort, domain, s.cfg.UpstreamHost, port})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", domain, err)
	}
	return b.String(), nil
}

// proxyPassPattern matches a proxy_pass to localhost, 127.0.0.1 or one of
// the extra upstream hosts, capturing the port.
func proxyPassPattern(hosts ...string) *regexp.Regexp {
	alts := []string{`localhost`, `127\.0\.0\.1`}
	for _, h := range hosts {
		if h == "" || h == "localhost" || h == "127.0.0.1" {
			continue
		}
		alts = append(alts, regexp.QuoteMeta(h))
	}
	return regexp.MustCompile(`proxy_pass\s+http://(?:` + strings.Join(alts, "|") + `):(\d+);`)
}

// ParseSite extracts the first server_name and the localhost proxy_pass
// port from a site file. ok is false when either is missing.
func ParseSite(content string) (domain string, port int, ok bool) {
	return parseSite(content, proxyPassRe)
}

func parseSite(content string, proxyPass *regexp.Regexp) (domain string, port int, ok bool) {
	dm := serverNameRe.FindStringSubmatch(content)
	pm := proxyPass.FindStringSubmatch(content)
	if dm == nil || pm == nil {
		return "", 0, false
	}
	names := strings.Fields(dm[1])
	if len(names) == 0 {
		return "", 0, false
	}
	p, err := strconv.Atoi(pm[1])
	if err != nil || p <= 0 || p > 65535 {
		return "", 0, false
	}
	return names[0], p, true
}
