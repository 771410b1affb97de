package proxy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

func newResolver(t *testing.T, mutate func(*config.AppConfig)) *Resolver {
	t.Helper()
	logger, err := helpers.NewLogger(filepath.Join(t.TempDir(), "app.log"), false, false)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Proxy.Enabled = true
	cfg.Proxy.Url = "http://127.0.0.1:7890"
	if mutate != nil {
		mutate(cfg)
	}
	return NewResolver(cfg, logger)
}

func TestDisabledReturnsDirect(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) { c.Proxy.Enabled = false })
	assert.Empty(t, r.ProxyFor("https://api.themoviedb.org/3/movie/1"))
}

func TestBlacklistDefaultsToProxy(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Proxy.Mode = "blacklist"
		c.Proxy.TargetTmdb = false
		c.Proxy.TargetDouban = true
	})
	// 未勾选的tmdb默认走代理
	assert.Equal(t, "http://127.0.0.1:7890", r.ProxyFor("https://api.themoviedb.org/3/movie/1"))
	// 勾选的douban为不走代理的例外
	assert.Empty(t, r.ProxyFor("https://movie.douban.com/subject/1"))
}

func TestWhitelistDefaultsToDirect(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Proxy.Mode = "whitelist"
		c.Proxy.TargetTmdb = true
		c.Proxy.TargetDouban = false
	})
	assert.Equal(t, "http://127.0.0.1:7890", r.ProxyFor("https://api.themoviedb.org/3/movie/1"))
	assert.Empty(t, r.ProxyFor("https://movie.douban.com/subject/1"))
	assert.Empty(t, r.ProxyFor("https://example.com/anything"))
}

func TestEmbyTargetMatchesByPrefix(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Server.Server = "http://emby.lan:8096"
		c.Proxy.Mode = "whitelist"
		c.Proxy.TargetEmby = true
	})
	assert.NotEmpty(t, r.ProxyFor("http://emby.lan:8096/emby/Items/1"))
	assert.Empty(t, r.ProxyFor("http://other.lan:8096/emby/Items/1"))
}

func TestCustomApiDomainCountsAsTmdb(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Tmdb.CustomApiDomainEnabled = true
		c.Tmdb.CustomApiDomain = "tmdb-mirror.example.com"
		c.Proxy.Mode = "whitelist"
		c.Proxy.TargetTmdb = true
	})
	assert.NotEmpty(t, r.ProxyFor("https://tmdb-mirror.example.com/3/tv/100"))
}

func TestCustomRuleDecidesImmediately(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Proxy.Mode = "whitelist"
		c.Proxy.Exclude = "github.com"
		c.Proxy.CustomRules = []config.ProxyRule{
			{Remark: "github", Keyword: "github.com | githubusercontent.com", Enabled: true},
		}
	})
	// 自定义规则优先于全局排除
	assert.Equal(t, "http://127.0.0.1:7890", r.ProxyFor("https://api.github.com/repos/a/b"))
	assert.Equal(t, "http://127.0.0.1:7890", r.ProxyFor("https://raw.githubusercontent.com/a/b/main/x.jpg"))
}

func TestCustomRuleBlacklistDisables(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Proxy.Mode = "blacklist"
		c.Proxy.CustomRules = []config.ProxyRule{
			{Remark: "内网", Keyword: "192.168.", Enabled: true},
		}
	})
	assert.Empty(t, r.ProxyFor("http://192.168.1.10:8096/emby"))
}

func TestDisabledRuleIgnored(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Proxy.Mode = "whitelist"
		c.Proxy.CustomRules = []config.ProxyRule{
			{Remark: "off", Keyword: "example.com", Enabled: false},
		}
	})
	assert.Empty(t, r.ProxyFor("https://example.com/x"))
}

func TestExcludeOverridesBuiltin(t *testing.T) {
	r := newResolver(t, func(c *config.AppConfig) {
		c.Proxy.Mode = "blacklist"
		c.Proxy.Exclude = "image.tmdb.org, doubanio.com"
	})
	assert.Empty(t, r.ProxyFor("https://image.tmdb.org/t/p/original/x.jpg"))
}
