package topology

import "fmt"

// templateBuilder is what a supplied embedded builder exposes before Reset
// clears it.
type templateBuilder interface {
	Err() error
	Settings() []string
	ConfigFilePath() string
}

// template is the config a supplied builder carried when it was handed to a
// topology builder. Every member built from that builder gets it back after
// Reset.
type template struct {
	lines      []string
	configFile string
}

func captureTemplate(what string, b templateBuilder) (*template, error) {
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("%s builder: %w", what, err)
	}
	return &template{lines: b.Settings(), configFile: b.ConfigFilePath()}, nil
}

// apply replays the template through the builder's own methods, so
// conflicts with settings added later still surface from Build.
func (t *template) apply(configFile, setting func(string)) {
	if t.configFile != "" {
		configFile(t.configFile)
	}
	for _, line := range t.lines {
		setting(line)
	}
}
