package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/odatalink/odatalink/internal/util"
	"golang.org/x/oauth2"
)

// ClientType selects how client credentials reach the token endpoint.
type ClientType string

const (
	// ClientTypePreDelivered is a provider-provisioned confidential client; credentials go in HTTP Basic auth.
	ClientTypePreDelivered ClientType = "pre_delivered"
	// ClientTypeCustom is a customer-registered client; credentials go in the form body.
	ClientTypeCustom ClientType = "custom"
)

// AuthStyle maps the client type to the matching golang.org/x/oauth2 auth style.
func (t ClientType) AuthStyle() oauth2.AuthStyle {
	if t == ClientTypePreDelivered {
		return oauth2.AuthStyleInHeader
	}
	return oauth2.AuthStyleInParams
}

// OAuth2Config describes one authorization-code client registration.
// It is treated as immutable for the duration of a flow.
type OAuth2Config struct {
	ClientID     string     `yaml:"client-id" json:"client-id" validate:"required"`
	ClientSecret string     `yaml:"client-secret" json:"client-secret" validate:"required_if=ClientType pre_delivered"`
	RedirectURI  string     `yaml:"redirect-uri" json:"redirect-uri" validate:"required"`
	Scope        string     `yaml:"scope" json:"scope"`
	ClientType   ClientType `yaml:"client-type" json:"client-type"`

	// AuthorizationURL and TokenURL may contain {tenant} and {region} placeholders.
	AuthorizationURL string `yaml:"authorization-url" json:"authorization-url" validate:"required"`
	TokenURL         string `yaml:"token-url" json:"token-url" validate:"required"`
	TenantName       string `yaml:"tenant-name" json:"tenant-name"`
	DataCenter       string `yaml:"data-center" json:"data-center"`

	// CallbackPort overrides the port taken from RedirectURI.
	CallbackPort    int           `yaml:"callback-port" json:"callback-port" validate:"gte=0,lte=65535"`
	CallbackTimeout time.Duration `yaml:"callback-timeout" json:"callback-timeout"`
	PollInterval    time.Duration `yaml:"poll-interval" json:"poll-interval"`
	StartupGrace    time.Duration `yaml:"startup-grace" json:"startup-grace"`
}

var structValidator = validator.New()

// ApplyDefaults fills zero timing values and the client type.
func (c *OAuth2Config) ApplyDefaults() {
	if c.ClientType == "" {
		c.ClientType = ClientTypeCustom
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = DefaultCallbackTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = DefaultStartupGrace
	}
}

// Validate checks required fields and that the expanded endpoints are HTTP URLs.
func (c *OAuth2Config) Validate() error {
	if err := util.ValidateOneOf("client-type", string(c.ClientType), string(ClientTypePreDelivered), string(ClientTypeCustom)); err != nil {
		return fmt.Errorf("oauth2 config: %w", err)
	}
	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("oauth2 config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("oauth2 config: %w", err)
	}
	if err := util.ValidateHTTPURL("redirect-uri", c.RedirectURI); err != nil {
		return fmt.Errorf("oauth2 config: %w", err)
	}
	if err := util.ValidateHTTPURL("authorization-url", c.AuthorizationEndpoint()); err != nil {
		return fmt.Errorf("oauth2 config: %w", err)
	}
	if err := util.ValidateHTTPURL("token-url", c.TokenEndpoint()); err != nil {
		return fmt.Errorf("oauth2 config: %w", err)
	}
	if strings.ContainsAny(c.AuthorizationEndpoint()+c.TokenEndpoint(), "{}") {
		return fmt.Errorf("oauth2 config: unresolved placeholder in endpoint URL (set tenant-name and data-center)")
	}
	return nil
}

// AuthorizationEndpoint returns AuthorizationURL with placeholders expanded.
func (c *OAuth2Config) AuthorizationEndpoint() string {
	return c.expand(c.AuthorizationURL)
}

// TokenEndpoint returns TokenURL with placeholders expanded.
func (c *OAuth2Config) TokenEndpoint() string {
	return c.expand(c.TokenURL)
}

func (c *OAuth2Config) expand(template string) string {
	var pairs []string
	if c.TenantName != "" {
		pairs = append(pairs, "{tenant}", c.TenantName)
	}
	if c.DataCenter != "" {
		pairs = append(pairs, "{region}", c.DataCenter)
	}
	template = strings.TrimSpace(template)
	if len(pairs) == 0 {
		return template
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// CallbackListenPort returns CallbackPort when set, otherwise the port of RedirectURI.
func (c *OAuth2Config) CallbackListenPort() int {
	if c.CallbackPort > 0 {
		return c.CallbackPort
	}
	parsed, err := url.Parse(c.RedirectURI)
	if err != nil {
		return 0
	}
	if p := parsed.Port(); p != "" {
		if port, errAtoi := strconv.Atoi(p); errAtoi == nil {
			return port
		}
	}
	return util.DefaultPort(parsed.Scheme)
}

// CallbackPath returns the path component of RedirectURI, defaulting to "/".
func (c *OAuth2Config) CallbackPath() string {
	parsed, err := url.Parse(c.RedirectURI)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}
