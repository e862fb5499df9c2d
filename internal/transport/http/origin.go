package http

import (
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// acceptOptions turns configured origins (full URLs) into the host patterns
// the websocket library matches against. "*" disables the origin check.
// Same-host requests and requests without an Origin header are always accepted.
func acceptOptions(origins []string, logger *zerolog.Logger) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			opts.InsecureSkipVerify = true
			continue
		}
		parsed, err := url.Parse(trimmed)
		if err != nil || parsed.Host == "" {
			logger.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		opts.OriginPatterns = append(opts.OriginPatterns, strings.ToLower(parsed.Host))
	}
	return opts
}
