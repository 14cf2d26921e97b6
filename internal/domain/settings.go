package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Default listener ports
const (
	DefaultHTTPPort  = 8080
	DefaultHTTPSPort = 8443
)

// passwordAlphabet excludes look-alike characters (0/o, 1/l/i)
const passwordAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const passwordLength = 16

// LanguageSettings describes one language channel
type LanguageSettings struct {
	ID     string `json:"id" bson:"id"`
	Name   string `json:"name" bson:"name"`
	Enable bool   `json:"enable" bson:"enable"`
	Public bool   `json:"public" bson:"public"`
}

// HTTPSettings configures the plain listener
type HTTPSettings struct {
	Enable bool `json:"enable" bson:"enable"`
	Port   int  `json:"port" bson:"port"`
}

// HTTPSSettings configures the encrypted listener
type HTTPSSettings struct {
	Enable   bool   `json:"enable" bson:"enable"`
	Port     int    `json:"port" bson:"port"`
	CertPath string `json:"certPath" bson:"cert_path"`
	KeyPath  string `json:"keyPath" bson:"key_path"`
}

// ServerSettings holds the listener settings. Enable is a master switch
// over both protocols.
type ServerSettings struct {
	Enable bool          `json:"enable" bson:"enable"`
	HTTP   HTTPSettings  `json:"http" bson:"http"`
	HTTPS  HTTPSSettings `json:"https" bson:"https"`
}

// Settings is the persisted, administrator-controlled configuration.
// It is replaced wholesale, never mutated in place once published.
type Settings struct {
	InterpreterPassword string             `json:"interpreterPassword" bson:"interpreter_password"`
	SecretKey           string             `json:"secretKey" bson:"secret_key"`
	Languages           []LanguageSettings `json:"languages" bson:"languages"`
	Server              ServerSettings     `json:"server" bson:"server"`
}

// DefaultSettings returns fresh settings with a random interpreter
// password, a random secret key and a single public language.
func DefaultSettings() *Settings {
	return &Settings{
		InterpreterPassword: GeneratePassword(),
		SecretKey:           GenerateSecretKey(),
		Languages: []LanguageSettings{{
			ID:     uuid.New().String(),
			Name:   "English",
			Enable: true,
			Public: true,
		}},
		Server: ServerSettings{
			Enable: true,
			HTTP: HTTPSettings{
				Enable: true,
				Port:   DefaultHTTPPort,
			},
			HTTPS: HTTPSSettings{
				Enable: false,
				Port:   DefaultHTTPSPort,
			},
		},
	}
}

// GeneratePassword returns a random interpreter password
func GeneratePassword() string {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, passwordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out)
}

// GenerateSecretKey returns 32 random bytes, base64 encoded
func GenerateSecretKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Clone returns a deep copy
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	out.Languages = append([]LanguageSettings(nil), s.Languages...)
	return &out
}

// Language returns the language with the given id
func (s *Settings) Language(id string) (LanguageSettings, bool) {
	if s == nil {
		return LanguageSettings{}, false
	}
	for _, l := range s.Languages {
		if l.ID == id {
			return l, true
		}
	}
	return LanguageSettings{}, false
}

// ProtocolEnabled reports whether p should be listening: both the master
// switch and the protocol switch must be on.
func (s ServerSettings) ProtocolEnabled(p Protocol) bool {
	if !s.Enable {
		return false
	}
	switch p {
	case ProtocolHTTP:
		return s.HTTP.Enable
	case ProtocolHTTPS:
		return s.HTTPS.Enable
	}
	return false
}

// Port returns the configured port for p
func (s ServerSettings) Port(p Protocol) int {
	switch p {
	case ProtocolHTTP:
		return s.HTTP.Port
	case ProtocolHTTPS:
		return s.HTTPS.Port
	}
	return 0
}

// Validate checks an administrator-submitted settings value
func (s *Settings) Validate() error {
	if s == nil {
		return fmt.Errorf("settings are required")
	}
	if s.SecretKey == "" {
		return fmt.Errorf("secret key cannot be empty")
	}
	seen := make(map[string]struct{}, len(s.Languages))
	for i, l := range s.Languages {
		if l.ID == "" {
			return fmt.Errorf("language %d: id cannot be empty", i)
		}
		if l.Name == "" {
			return fmt.Errorf("language %q: name cannot be empty", l.ID)
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("language %q: duplicate id", l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	for _, p := range Protocols {
		port := s.Server.Port(p)
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", p, port)
		}
	}
	if s.Server.HTTP.Port == s.Server.HTTPS.Port && s.Server.HTTP.Enable && s.Server.HTTPS.Enable {
		return fmt.Errorf("http and https cannot share port %d", s.Server.HTTP.Port)
	}
	return nil
}
