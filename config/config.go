package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// MaxReviewPages is the deepest review page the storefront will serve.
const MaxReviewPages = 1000

// RetryForever makes a RetryConfig retry until the operation succeeds.
const RetryForever = -1

// Config holds crawler configuration.
type Config struct {
	Pages         int `mapstructure:"pages" validate:"min=1"`
	MaxReviewPage int `mapstructure:"max_review_page" validate:"min=1,max=1000"`
	MaxWorkers    int `mapstructure:"max_workers" validate:"min=1"`

	OutputDir    string `mapstructure:"output_dir" validate:"required"`
	OutputFormat string `mapstructure:"output_format" validate:"required,formats"`
	LogDir       string `mapstructure:"log_dir"`
	Verbose      bool   `mapstructure:"verbose"`
	MetricsAddr  string `mapstructure:"metrics_addr"`

	Timeout             time.Duration `mapstructure:"timeout" validate:"min=1s"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second" validate:"min=0"`
	VerifyTLS           bool          `mapstructure:"verify_tls"`
	EvictOnNetworkError bool          `mapstructure:"evict_on_network_error"`
	PageDelayMin        time.Duration `mapstructure:"page_delay_min" validate:"min=0"`
	PageDelayMax        time.Duration `mapstructure:"page_delay_max" validate:"min=0"`

	FetchRetry RetryConfig `mapstructure:"fetch_retry"`
	ProxyRetry RetryConfig `mapstructure:"proxy_retry"`

	UserAgents []string `mapstructure:"user_agents" validate:"min=1,dive,min=10"`
	Proxies    []string `mapstructure:"proxies" validate:"dive,hostname_port"`

	Site    SiteConfig    `mapstructure:"site"`
	Sources SourcesConfig `mapstructure:"sources"`
}

// RetryConfig bounds a retry loop. Retries of RetryForever never give up.
type RetryConfig struct {
	Retries       int           `mapstructure:"retries" validate:"min=-1"`
	DelayMin      time.Duration `mapstructure:"delay_min" validate:"min=0"`
	DelayMax      time.Duration `mapstructure:"delay_max" validate:"min=0"`
	Verbose       int           `mapstructure:"verbose" validate:"min=0,max=2"`
	VerbosePeriod int           `mapstructure:"verbose_period" validate:"min=1"`
}

// SiteConfig carries the storefront endpoints and request literals.
type SiteConfig struct {
	SearchURL        string `mapstructure:"search_url" validate:"required,url"`
	ReviewURL        string `mapstructure:"review_url" validate:"required,url"`
	SmartStorePrefix string `mapstructure:"smartstore_prefix" validate:"required"`
	ReviewOrigin     string `mapstructure:"review_origin" validate:"required,url"`
	ClientVersion    string `mapstructure:"client_version"`
	// Cookies is a Cookie header value ("NNB=...; NID_AUT=..."). A header
	// string keeps the case of cookie names, which viper map keys lose.
	Cookies string `mapstructure:"cookies"`
}

// ParseCookies splits the configured Cookie header.
func (s SiteConfig) ParseCookies() ([]*http.Cookie, error) {
	if strings.TrimSpace(s.Cookies) == "" {
		return nil, nil
	}
	cookies, err := http.ParseCookie(s.Cookies)
	if err != nil {
		return nil, fmt.Errorf("invalid site cookies: %w", err)
	}
	return cookies, nil
}

// SourcesConfig lists the public proxy list endpoints.
type SourcesConfig struct {
	FreeProxyListURL string `mapstructure:"free_proxy_list_url" validate:"required,url"`
	ProxyScrapeURL   string `mapstructure:"proxy_scrape_url" validate:"required,url"`
}

// DefaultConfig returns defaults tuned for the public storefront.
func DefaultConfig() *Config {
	return &Config{
		Pages:               1,
		MaxReviewPage:       100,
		MaxWorkers:          DefaultWorkers(),
		OutputDir:           ".result",
		OutputFormat:        "parquet",
		LogDir:              ".logs",
		Verbose:             false,
		MetricsAddr:         "",
		Timeout:             30 * time.Second,
		RequestsPerSecond:   0,
		VerifyTLS:           true,
		EvictOnNetworkError: false,
		PageDelayMin:        100 * time.Millisecond,
		PageDelayMax:        300 * time.Millisecond,
		FetchRetry: RetryConfig{
			Retries:       RetryForever,
			DelayMin:      100 * time.Millisecond,
			DelayMax:      300 * time.Millisecond,
			Verbose:       0,
			VerbosePeriod: 1,
		},
		ProxyRetry: RetryConfig{
			Retries:       10,
			DelayMin:      7 * time.Second,
			DelayMax:      10 * time.Second,
			Verbose:       2,
			VerbosePeriod: 1,
		},
		UserAgents: defaultUserAgents(),
		Site: SiteConfig{
			SearchURL:        "https://search.shopping.naver.com/search/all",
			ReviewURL:        "https://smartstore.naver.com/i/v1/contents/reviews/query-pages",
			SmartStorePrefix: "https://smartstore.naver.com/main/products",
			ReviewOrigin:     "https://smartstore.naver.com",
			ClientVersion:    "20240626111623",
		},
		Sources: SourcesConfig{
			FreeProxyListURL: "https://free-proxy-list.net",
			ProxyScrapeURL:   "https://api.proxyscrape.com/v3/free-proxy-list/get?request=displayproxies&proxy_format=protocolipport&format=text",
		},
	}
}

// DefaultWorkers is half of the available CPUs, never less than one.
func DefaultWorkers() int {
	if n := runtime.NumCPU() / 2; n > 0 {
		return n
	}
	return 1
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := registerCustomValidators(validate); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s: failed %q constraint", fieldName(verrs[0]), verrs[0].Tag())
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.PageDelayMax < c.PageDelayMin {
		return fmt.Errorf("page delay max (%s) cannot be below page delay min (%s)", c.PageDelayMax, c.PageDelayMin)
	}
	if err := c.FetchRetry.validate("fetch retry"); err != nil {
		return err
	}
	if err := c.ProxyRetry.validate("proxy retry"); err != nil {
		return err
	}
	if parsed, err := url.Parse(c.Site.SearchURL); err != nil || parsed.Host == "" {
		return fmt.Errorf("search URL must include a host")
	}
	if _, err := c.Site.ParseCookies(); err != nil {
		return err
	}
	return nil
}

func (r RetryConfig) validate(name string) error {
	if r.DelayMax < r.DelayMin {
		return fmt.Errorf("%s delay max (%s) cannot be below delay min (%s)", name, r.DelayMax, r.DelayMin)
	}
	return nil
}

// Load reads configuration from defaults, an optional YAML file and
// NAVERREVIEW_* environment variables, in increasing precedence. Values
// already set on v (bound CLI flags) win over all of them.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("NAVERREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("pages", d.Pages)
	v.SetDefault("max_review_page", d.MaxReviewPage)
	v.SetDefault("max_workers", d.MaxWorkers)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("verify_tls", d.VerifyTLS)
	v.SetDefault("evict_on_network_error", d.EvictOnNetworkError)
	v.SetDefault("page_delay_min", d.PageDelayMin)
	v.SetDefault("page_delay_max", d.PageDelayMax)

	setRetryDefaults(v, "fetch_retry", d.FetchRetry)
	setRetryDefaults(v, "proxy_retry", d.ProxyRetry)

	v.SetDefault("user_agents", d.UserAgents)
	v.SetDefault("proxies", []string{})

	v.SetDefault("site.search_url", d.Site.SearchURL)
	v.SetDefault("site.review_url", d.Site.ReviewURL)
	v.SetDefault("site.smartstore_prefix", d.Site.SmartStorePrefix)
	v.SetDefault("site.review_origin", d.Site.ReviewOrigin)
	v.SetDefault("site.client_version", d.Site.ClientVersion)
	v.SetDefault("site.cookies", d.Site.Cookies)

	v.SetDefault("sources.free_proxy_list_url", d.Sources.FreeProxyListURL)
	v.SetDefault("sources.proxy_scrape_url", d.Sources.ProxyScrapeURL)
}

func setRetryDefaults(v *viper.Viper, prefix string, r RetryConfig) {
	v.SetDefault(prefix+".retries", r.Retries)
	v.SetDefault(prefix+".delay_min", r.DelayMin)
	v.SetDefault(prefix+".delay_max", r.DelayMax)
	v.SetDefault(prefix+".verbose", r.Verbose)
	v.SetDefault(prefix+".verbose_period", r.VerbosePeriod)
}

// Formats splits OutputFormat into its comma-separated formats.
func (c *Config) Formats() []string {
	var out []string
	for _, f := range strings.Split(c.OutputFormat, ",") {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func registerCustomValidators(validate *validator.Validate) error {
	return validate.RegisterValidation("formats", func(fl validator.FieldLevel) bool {
		cfg := Config{OutputFormat: fl.Field().String()}
		formats := cfg.Formats()
		if len(formats) == 0 {
			return false
		}
		for _, f := range formats {
			switch f {
			case "parquet", "csv", "json":
			default:
				return false
			}
		}
		return true
	})
}

// fieldName turns "Config.FetchRetry.DelayMin" into "fetch retry delay min".
func fieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	var b strings.Builder
	for i, r := range ns {
		switch {
		case r == '.':
			b.WriteByte(' ')
			continue
		case r >= 'A' && r <= 'Z':
			if i > 0 && ns[i-1] >= 'a' && ns[i-1] <= 'z' {
				b.WriteByte(' ')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// defaultUserAgents is a spread of current desktop browsers. Operators who
// need a wider fingerprint pool set user_agents.
func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Whale/3.26.244.21",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.5; rv:127.0) Gecko/20100101 Firefox/127.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
		"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
	}
}
