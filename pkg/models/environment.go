package models

import "encoding/json"

// DefaultGroup is the group the farm files new environments under when none is given.
const DefaultGroup = "默认分组"

// Environment is a remote browser process as tracked by the farm service
type Environment struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Group      string `json:"group,omitempty"`
	Port       int    `json:"debuggingPort,omitempty"`
	DriverPath string `json:"driverPath,omitempty"`
}

// Screen describes the emulated display of a new environment
type Screen struct {
	Mode   int    `json:"mode" yaml:"mode"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Label  string `json:"_value,omitempty" yaml:"label,omitempty"`
}

// CreateEnvironmentRequest is the payload for the farm's addBrowser call
type CreateEnvironmentRequest struct {
	Name    string                 `json:"name" yaml:"name"`
	Group   string                 `json:"group" yaml:"group"`
	Screen  *Screen                `json:"screen,omitempty" yaml:"screen,omitempty"`
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"` // proxy, homepage, ...
}

// LaunchInfo is what the farm returns after launching an environment
type LaunchInfo struct {
	EnvironmentID string `json:"environmentId"`
	Port          int    `json:"debuggingPort"`
	DriverPath    string `json:"driverPath,omitempty"`
}

// ListFilter narrows getBrowserList results
type ListFilter struct {
	Group  string `json:"group,omitempty"`
	Name   string `json:"name,omitempty"`
	Remark string `json:"remark,omitempty"`
}

// EnvironmentSummary is one entry of the farm's environment list
type EnvironmentSummary struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Group  []string        `json:"group,omitempty"`
	Remark string          `json:"remark,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}
