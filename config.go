package serial

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultChunkSize is the number of bytes requested per transport read.
	DefaultChunkSize = 64
	// DefaultTimeToLive is how long an unmatched token is kept.
	DefaultTimeToLive = time.Second
)

// ListenerConfig holds the tunables of a Listener. Zero values select the
// defaults. Changing a Listener's configuration while it is listening has
// no defined effect.
type ListenerConfig struct {
	// Delimiter is used to build the tokenizer when Tokenizer is nil.
	Delimiter  string        `yaml:"delimiter"`
	ChunkSize  int           `yaml:"chunk_size"`
	TimeToLive time.Duration `yaml:"time_to_live"`

	Tokenizer Tokenizer `yaml:"-"`
	// DefaultHandler receives tokens that expire without matching a filter.
	// When nil such tokens are dropped.
	DefaultHandler Callback `yaml:"-"`
	// ExceptionHandler receives errors raised on the background goroutines.
	// When nil they are logged.
	ExceptionHandler func(error) `yaml:"-"`
	Logger           *slog.Logger `yaml:"-"`
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.TimeToLive <= 0 {
		c.TimeToLive = DefaultTimeToLive
	}
	if c.Tokenizer == nil {
		c.Tokenizer = DelimiterTokenizer(c.Delimiter)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Settings is the file form of a port plus listener setup:
//
//	port:
//	  device: /dev/ttyUSB0
//	  baud_rate: 115200
//	  read_timeout: 100ms
//	listener:
//	  delimiter: "\r"
//	  chunk_size: 64
//	  time_to_live: 1s
type Settings struct {
	Port     Config         `yaml:"port"`
	Listener ListenerConfig `yaml:"listener"`
}

// LoadSettings decodes YAML settings from r. Unknown keys are rejected.
func LoadSettings(r io.Reader) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if s.Listener.ChunkSize < 0 {
		return Settings{}, fmt.Errorf("decode settings: negative chunk_size %d", s.Listener.ChunkSize)
	}
	return s, nil
}

// LoadSettingsFile reads settings from a YAML file.
func LoadSettingsFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()
	return LoadSettings(f)
}
