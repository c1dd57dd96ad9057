// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	ValKey    ValKey    `yaml:"valkey"`
	Auth      Auth      `yaml:"auth"`
	Gateway   Gateway   `yaml:"gateway"`
	Storage   Storage   `yaml:"storage"`
	Converter Converter `yaml:"converter"`
	Delivery  Delivery  `yaml:"delivery"`
	Export    Export    `yaml:"export"`

	Housekeeper Housekeeper `yaml:"housekeeper"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"session-exporter"`

	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type FlowStore string

const (
	FlowStoreMemory FlowStore = "memory"
	FlowStoreValKey FlowStore = "valkey"
)

type Auth struct {
	// FlowTTL bounds both the flow store entries and the correlation cookie.
	FlowTTL    time.Duration  `yaml:"flowTTL" default:"60s"`
	CodeLength int            `yaml:"codeLength" default:"5"`
	FlowStore  FlowStore      `yaml:"flowStore" default:"memory"`
	Cookie     CookieTemplate `yaml:"cookie"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

// CookieTemplate describes the correlation cookie. Its lifetime is not part
// of the template; it is always the flow TTL.
type CookieTemplate struct {
	Name     string         `yaml:"name" default:"tg_auth_id"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Lax"`
	HTTPOnly bool           `yaml:"httpOnly" default:"true"`
}

// Gateway is the account protocol sidecar.
type Gateway struct {
	URL     string              `yaml:"url" default:"http://localhost:8090"`
	APIID   int64               `yaml:"apiID"`
	APIHash commoncfg.SourceRef `yaml:"apiHash"`
	Timeout time.Duration       `yaml:"timeout" default:"30s"`

	// SecretRef of type mtls enables client certificates towards the gateway.
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type Storage struct {
	SessionsDir string `yaml:"sessionsDir" default:".sessions"`
	ProfilesDir string `yaml:"profilesDir" default:".tdata"`
	ExportsDir  string `yaml:"exportsDir" default:".exports"`
}

// Converter is the external command producing a profile. The placeholders
// {session} and {output} are replaced in every argument.
type Converter struct {
	Command []string `yaml:"command"`
	Env     []string `yaml:"env"`
}

type Delivery struct {
	BotToken       commoncfg.SourceRef `yaml:"botToken"`
	Endpoint       string              `yaml:"endpoint"`
	DefaultChatID  string              `yaml:"defaultChatID"`
	Timeout        time.Duration       `yaml:"timeout" default:"2m"`
	Retries        uint64              `yaml:"retries" default:"3"`
	RetryBaseDelay time.Duration       `yaml:"retryBaseDelay" default:"1s"`
}

type Export struct {
	// SkipSession leaves the raw session file out of background archives.
	SkipSession     bool          `yaml:"skipSession"`
	StatusRetention time.Duration `yaml:"statusRetention" default:"24h"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"1h"`
	// ArchiveRetention of zero keeps archives forever.
	ArchiveRetention time.Duration `yaml:"archiveRetention" default:"168h"`
}
