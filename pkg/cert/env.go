package cert

import "strings"

// EnvVar is one environment assignment a proxied client needs.
type EnvVar struct {
	Name  string
	Value string
}

// EnvVars returns the exports that route a client's traffic through the
// proxy and make it trust the local CA. Both upper and lower case proxy
// variables are emitted since tooling disagrees on which it reads.
func EnvVars(proxyAddr, caCertPath string) []EnvVar {
	proxyURL := "http://" + proxyAddr
	return []EnvVar{
		{Name: "HTTP_PROXY", Value: proxyURL},
		{Name: "HTTPS_PROXY", Value: proxyURL},
		{Name: "http_proxy", Value: proxyURL},
		{Name: "https_proxy", Value: proxyURL},
		{Name: "NODE_EXTRA_CA_CERTS", Value: caCertPath},
		{Name: "REQUESTS_CA_BUNDLE", Value: caCertPath},
		{Name: "SSL_CERT_FILE", Value: caCertPath},
	}
}

// FormatEnvExport renders the variables as eval-able shell export lines.
func FormatEnvExport(vars []EnvVar) string {
	lines := make([]string, 0, len(vars))
	for _, v := range vars {
		lines = append(lines, "export "+v.Name+"="+shellQuote(v.Value))
	}
	return strings.Join(lines, "\n")
}

// shellQuote quotes only when the value needs it.
func shellQuote(value string) string {
	if !strings.ContainsAny(value, " '\"") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
