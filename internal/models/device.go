// internal/models/device.go
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Device 설정 파일에서 읽어 온 단말기 정보
type Device struct {
	ID       int        `json:"id" yaml:"id"`
	IP       string     `json:"ip" yaml:"ip"`
	Name     string     `json:"name" yaml:"name"`
	Status   string     `json:"status" yaml:"status"`
	Password Credential `json:"password" yaml:"password"`
}

// Key identifies the device partition in the failed-event store and the
// recent-log index.
func (d Device) Key() string {
	return d.IP
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.IP)
}

// Credential is the terminal comm key. Device files carry it either as a
// number or as a string, so both forms decode.
type Credential string

func (c *Credential) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Credential(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("password must be a string or number: %w", err)
	}
	*c = Credential(n.String())
	return nil
}

func (c *Credential) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("password must be a scalar, got %v", node.Tag)
	}
	*c = Credential(node.Value)
	return nil
}

// CommKey returns the numeric comm key. An empty credential is key 0.
func (c Credential) CommKey() (uint32, error) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return 0, nil
	}
	key, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid comm key %q: %w", s, err)
	}
	return uint32(key), nil
}
