package main

import (
	"encoding/json"
	"net"
	"os"
	"tcplb/lib/core"

	"github.com/pkg/errors"
)

// jsonApplication mirrors core.Application for config decoding. Targets are
// plain "host:port" strings (§6); Network is always "tcp", since the
// config format has no way to spell anything else.
type jsonApplication struct {
	Name    string   `json:"Name"`
	Ports   []uint16 `json:"Ports"`
	Targets []string `json:"Targets"`
}

type jsonConfiguration struct {
	Apps []jsonApplication `json:"Apps"`
}

// LoadConfiguration resolves source two ways, per §6: if it names an
// existing file, its contents are parsed as JSON; otherwise source itself
// is parsed as a JSON literal.
func LoadConfiguration(source string) (*core.Configuration, error) {
	data := []byte(source)
	if _, err := os.Stat(source); err == nil {
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %q", source)
		}
	}

	var raw jsonConfiguration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration as JSON")
	}

	cfg := &core.Configuration{Apps: make([]core.Application, len(raw.Apps))}
	for i, app := range raw.Apps {
		targets := make([]core.Upstream, len(app.Targets))
		for j, addr := range app.Targets {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrapf(err, "application %q has invalid target %q, expected host:port", app.Name, addr)
			}
			targets[j] = core.Upstream{Network: defaultUpstreamNetwork, Address: net.JoinHostPort(host, port)}
		}
		cfg.Apps[i] = core.Application{Name: app.Name, Ports: app.Ports, Targets: targets}
	}
	return cfg, nil
}
