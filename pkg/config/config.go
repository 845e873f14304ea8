/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

type ApiConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Addr is the host:port the REST API listens on and the CLI connects to
func (c *ApiConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}

// ProbeConfig describes the UDP debug probe proxy exposing the register interface
type ProbeConfig struct {
	Address string        `yaml:"address"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

func (c *ProbeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

type SessionConfig struct {
	// Attach is empty when the worker waits for a program load,
	// otherwise it attaches to a program which is already running.
	Attach          string        `yaml:"attach"`
	TargetID        string        `yaml:"target_id"`
	ProgramPath     string        `yaml:"program_path"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ReplyTimeout    time.Duration `yaml:"reply_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`
	StaleTimeout    time.Duration `yaml:"stale_timeout"`
	TimeoutsEnabled bool          `yaml:"timeouts_enabled"`
}

type MqttConfig struct {
	// Broker is empty when notifications are not published
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type WatchdogConfig struct {
	// Schedule is a cron expression, empty disables the watchdog
	Schedule string `yaml:"schedule"`
}

type SimConfig struct {
	Listen        string `yaml:"listen"`
	FirstSourceID uint32 `yaml:"first_source_id"`
	BusyProbes    int    `yaml:"busy_probes"`
}

type Config struct {
	LogLevel string          `yaml:"log_level"`
	DBPath   string          `yaml:"db_path"`
	Api      *ApiConfig      `yaml:"api"`
	Probe    *ProbeConfig    `yaml:"probe"`
	Session  *SessionConfig  `yaml:"session"`
	Mqtt     *MqttConfig     `yaml:"mqtt"`
	Watchdog *WatchdogConfig `yaml:"watchdog"`
	Sim      *SimConfig      `yaml:"sim"`
	filepath string
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filepath, data, 0644)
}

// Load reads the config file over the defaults. A missing file is not an error.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.filepath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	return c.Validate()
}

// Validate checks the values which can not be fixed by defaults
func (c *Config) Validate() error {
	switch c.Session.Attach {
	case AttachNone, AttachBuffered, AttachUnbuffered:
	default:
		return ErrBadAttachMode{Mode: c.Session.Attach}
	}
	if c.Session.PollInterval <= 0 {
		c.Session.PollInterval = DefaultPollInterval
	}
	return nil
}

func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(data)
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir)
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), ConfigFile)
}

func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Attach:          AttachNone,
		PollInterval:    DefaultPollInterval,
		ReplyTimeout:    DefaultReplyTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ReadyTimeout:    DefaultReadyTimeout,
		StaleTimeout:    DefaultStaleTimeout,
		TimeoutsEnabled: true,
	}
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		DBPath:   filepath.Join(DefaultConfigDir(), DBFile),
		Api: &ApiConfig{
			IP:   DefaultApiIP,
			Port: DefaultApiPort,
		},
		Probe: &ProbeConfig{
			Address: DefaultProbeAddress,
			Port:    DefaultProbePort,
			Timeout: DefaultProbeTimeout,
			Retries: DefaultProbeRetries,
		},
		Session: DefaultSessionConfig(),
		Mqtt: &MqttConfig{
			Topic:    DefaultMqttTopic,
			ClientID: DefaultMqttClientID,
		},
		Watchdog: &WatchdogConfig{},
		Sim: &SimConfig{
			Listen:        DefaultSimListen,
			FirstSourceID: DefaultSimFirstSourceID,
		},
		filepath: DefaultConfigPath(),
	}
}
