package logging

import (
	"fmt"
	"strings"

	logging "github.com/textileio/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// ParseLevels parses a comma separated list of system=level pairs. The
// system "*" applies to every registered system.
func ParseLevels(s string) (map[string]logging.LogLevel, error) {
	levels := map[string]logging.LogLevel{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid log level %q, expected system=level", pair)
		}
		lvl, err := logging.LevelFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parsing level of %s: %s", parts[0], err)
		}
		levels[parts[0]] = lvl
	}
	return levels, nil
}

// SetLogLevels sets levels for the given systems.
func SetLogLevels(systems map[string]logging.LogLevel) error {
	for sys, level := range systems {
		l := zapcore.Level(level)
		if sys == "*" {
			for _, s := range logging.GetSubsystems() {
				if err := logging.SetLogLevel(s, l.CapitalString()); err != nil {
					return err
				}
			}
			continue
		}
		if err := logging.SetLogLevel(sys, l.CapitalString()); err != nil {
			return err
		}
	}
	return nil
}
