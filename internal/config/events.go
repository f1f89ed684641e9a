package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AllowList is the set of event names the relay acts upon. Events outside
// the set are acknowledged and dropped.
type AllowList map[string]struct{}

// eventsFile mirrors the on-disk events.yaml layout: event names grouped
// under a namespace key per webhook source.
type eventsFile struct {
	Remnawave struct {
		AllowedEvents []string `yaml:"allowed_events"`
	} `yaml:"remnawave"`
}

// LoadAllowList reads the Remnawave allow-list from a YAML file.
func LoadAllowList(path string) (AllowList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events config: %w", err)
	}

	var ef eventsFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("parse events config %s: %w", path, err)
	}

	list := make(AllowList, len(ef.Remnawave.AllowedEvents))
	for _, name := range ef.Remnawave.AllowedEvents {
		list[name] = struct{}{}
	}
	return list, nil
}

// Contains reports whether the event name is allowed.
func (a AllowList) Contains(event string) bool {
	_, ok := a[event]
	return ok
}
