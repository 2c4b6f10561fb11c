package directive

import (
	"fmt"
	"strconv"
	"strings"
)

// Validate applies the pre-execution rules to a list of topic directives:
// topic names must be unique, and bootstrap-server overrides (when present)
// must parse as comma-separated host:port entries. All violations are
// accumulated; callers must not proceed on a non-empty result.
func Validate(directives []TopicDirective) []error {
	var errs []error

	counts := map[string]int{}
	order := make([]string, 0, len(directives))
	for _, d := range directives {
		if counts[d.Topic] == 0 {
			order = append(order, d.Topic)
		}
		counts[d.Topic]++
	}
	for _, topic := range order {
		if n := counts[topic]; n > 1 {
			errs = append(errs, fmt.Errorf("Topic '%s' appears %d times", topic, n))
		}
	}

	for _, d := range directives {
		if d.BootstrapServers == nil {
			continue
		}
		if _, err := ParseBootstrapServers(*d.BootstrapServers); err != nil {
			errs = append(errs, fmt.Errorf("topic %q: %w", d.Topic, err))
		}
	}

	return errs
}

// ParseBootstrapServers splits a comma-separated bootstrap-server string into
// host:port entries, trimming whitespace around each. Ports must be in
// [1, 65535]; hosts must be non-empty and may not start or end with '-'.
func ParseBootstrapServers(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("Bootstrap servers cannot be empty")
	}
	parts := strings.Split(s, ",")
	servers := make([]string, 0, len(parts))
	for _, p := range parts {
		entry := strings.TrimSpace(p)
		host, port, ok := splitHostPort(entry)
		if !ok {
			return nil, fmt.Errorf("Invalid bootstrap server format: %q. Expected format: host:port", entry)
		}
		if host == "" || strings.HasPrefix(host, "-") || strings.HasSuffix(host, "-") {
			return nil, fmt.Errorf("Invalid bootstrap server format: %q. Expected format: host:port", entry)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("Invalid bootstrap server format: %q. Expected format: host:port", entry)
		}
		servers = append(servers, host+":"+port)
	}
	return servers, nil
}

func splitHostPort(s string) (host, port string, ok bool) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
