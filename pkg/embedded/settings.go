package embedded

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
)

// settings accumulates either inline config lines or a config file path,
// never both.
type settings struct {
	lines      []string
	configFile string
}

func (s *settings) add(line string) error {
	if s.configFile != "" {
		return rediserr.ConfigConflict("Cannot add a setting: a config file is already set").
			WithContext("config_file", s.configFile).
			WithContext("setting", line)
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *settings) setFile(path string) error {
	if len(s.lines) > 0 {
		return rediserr.ConfigConflict("Cannot set a config file: inline settings already given").
			WithContext("config_file", path).
			WithContext("settings", len(s.lines))
	}
	s.configFile = path
	return nil
}

func (s *settings) reset() {
	s.lines = nil
	s.configFile = ""
}

func lineSeparator() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// writeConfig writes lines to a fresh temp file and registers its removal.
// With no lines the file is left empty, which redis treats as a fresh
// cluster nodes file.
func writeConfig(reg *shutdown.Registry, role string, port int, lines []string) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("embedded-redis-%s_%d-*.conf", role, port))
	if err != nil {
		return "", rediserr.Build("Cannot create config file", err).WithContext("role", role)
	}
	path := f.Name()
	reg.Add("remove "+path, func() error { return os.Remove(path) })

	var werr error
	if len(lines) > 0 {
		sep := lineSeparator()
		_, werr = f.WriteString(strings.Join(lines, sep) + sep)
	}
	cerr := f.Close()
	if werr != nil || cerr != nil {
		if werr == nil {
			werr = cerr
		}
		return "", rediserr.Build("Cannot write config file", werr).
			WithContext("role", role).
			WithContext("path", path)
	}
	return path, nil
}

// common holds what every builder shares.
type common struct {
	resolver *executable.Resolver
	registry *shutdown.Registry
	opts     []supervisor.Option
	conf     settings
	err      error
}

func newCommon(resolver *executable.Resolver) common {
	return common{resolver: resolver, registry: shutdown.Default()}
}

// Err returns the first error recorded by a builder call, if any.
func (c *common) Err() error { return c.err }

// Settings returns a copy of the inline config lines.
func (c *common) Settings() []string { return append([]string(nil), c.conf.lines...) }

// ConfigFilePath returns the config file set with ConfigFile, or "".
func (c *common) ConfigFilePath() string { return c.conf.configFile }

func (c *common) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *common) resolve(ctx context.Context, role supervisor.Role) (string, error) {
	exe, err := c.resolver.Resolve(ctx)
	if err != nil {
		return "", rediserr.Build(fmt.Sprintf("Cannot build %s", role.Name), err)
	}
	return exe, nil
}

func (c *common) instance(spec *supervisor.InstanceSpec) *supervisor.Instance {
	opts := append([]supervisor.Option{supervisor.WithRegistry(c.registry)}, c.opts...)
	return supervisor.New(spec, opts...)
}

func validPort(port int) bool {
	return port >= 0 && port <= 65535
}

func invalidPort(what string, port int) error {
	return rediserr.Build(fmt.Sprintf("Invalid %s", what), nil).WithContext("port", port)
}
