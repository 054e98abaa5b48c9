package directory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/natssync/mstress/internal/subject"
)

// Static serves a fixed client list.
type Static struct {
	clients []string
}

func NewStatic(clients []string) (*Static, error) {
	for _, c := range clients {
		if c == subject.CloudMaster {
			continue
		}
		if err := subject.ValidateClient(c); err != nil {
			return nil, err
		}
	}
	return &Static{clients: filter(clients)}, nil
}

// ParseList splits a comma separated DIRECTORY_CLIENTS value.
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type staticFile struct {
	Clients []string `yaml:"clients"`
}

// LoadStaticFile reads a YAML document of the form
//
//	clients:
//	  - alpha
//	  - beta
func LoadStaticFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	return NewStatic(f.Clients)
}

func (s *Static) Clients(context.Context) ([]string, error) {
	out := make([]string, len(s.clients))
	copy(out, s.clients)
	return out, nil
}
