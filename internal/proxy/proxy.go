package proxy

import (
	"strings"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

// Resolver 根据配置为每个目标URL决定是否启用代理。
// 匹配顺序: 自定义规则 -> 内置规则 -> 全局排除。
type Resolver struct {
	cfg  config.ProxyConfig
	emby config.ServerConfig
	tmdb config.TmdbConfig
	log  *helpers.Logger
}

func NewResolver(cfg *config.AppConfig, log *helpers.Logger) *Resolver {
	return &Resolver{
		cfg:  cfg.Proxy,
		emby: cfg.Server,
		tmdb: cfg.Tmdb,
		log:  log.Cat("代理"),
	}
}

// ProxyFor 返回该URL应使用的代理地址，直连时返回空串
func (r *Resolver) ProxyFor(targetURL string) string {
	cfg := r.cfg
	if !cfg.Enabled || cfg.Url == "" {
		return ""
	}

	// 自定义规则命中即决策，不再走后续排除
	for _, rule := range cfg.CustomRules {
		if !rule.Enabled || rule.Keyword == "" {
			continue
		}
		if matchKeywords(targetURL, rule.Keyword) {
			if cfg.Mode == "whitelist" {
				r.log.Debugf("白名单命中自定义规则 %s，启用代理: %s", rule.Remark, targetURL)
				return cfg.Url
			}
			r.log.Debugf("黑名单命中自定义规则 %s，禁用代理: %s", rule.Remark, targetURL)
			return ""
		}
	}

	isTmdb := strings.Contains(targetURL, "themoviedb.org") ||
		(r.tmdb.CustomApiDomainEnabled && r.tmdb.CustomApiDomain != "" && strings.Contains(targetURL, r.tmdb.CustomApiDomain))
	isDouban := strings.Contains(targetURL, "douban.com") || strings.Contains(targetURL, "doubanio.com")
	isEmby := r.emby.Server != "" && strings.HasPrefix(targetURL, r.emby.Server)

	useProxy := false
	switch cfg.Mode {
	case "blacklist":
		// 黑名单模式：默认走代理，勾选的分类不走代理
		useProxy = true
		if isTmdb && cfg.TargetTmdb {
			useProxy = false
		}
		if isDouban && cfg.TargetDouban {
			useProxy = false
		}
		if isEmby && cfg.TargetEmby {
			useProxy = false
		}
	case "whitelist":
		// 白名单模式：默认直连，勾选的分类走代理
		if isTmdb && cfg.TargetTmdb {
			useProxy = true
		}
		if isDouban && cfg.TargetDouban {
			useProxy = true
		}
		if isEmby && cfg.TargetEmby {
			useProxy = true
		}
	}

	if useProxy && cfg.Exclude != "" {
		for _, domain := range helpers.TrimSplit(cfg.Exclude, ",") {
			if strings.Contains(targetURL, domain) {
				r.log.Debugf("请求 %s 命中全局排除列表，禁用代理", targetURL)
				useProxy = false
				break
			}
		}
	}

	if useProxy {
		return cfg.Url
	}
	return ""
}

func matchKeywords(targetURL, keyword string) bool {
	for _, k := range helpers.TrimSplit(keyword, "|") {
		if strings.Contains(targetURL, k) {
			return true
		}
	}
	return false
}
