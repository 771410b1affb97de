package config

import "encoding/json"

// ServerConfig Emby服务器连接配置
type ServerConfig struct {
	Server string `json:"server"`
	ApiKey string `json:"api_key"`
	UserId string `json:"user_id"`
}

type DownloadConfig struct {
	DownloadDirectory   string `json:"download_directory"`
	DownloadBehavior    string `json:"download_behavior"` // skip | overwrite
	DirectoryNamingRule string `json:"directory_naming_rule"`
	NfoActorLimit       int    `json:"nfo_actor_limit"`
}

type TmdbConfig struct {
	ApiKey                 string `json:"api_key"`
	CustomApiDomainEnabled bool   `json:"custom_api_domain_enabled"`
	CustomApiDomain        string `json:"custom_api_domain"`
}

// ProxyRule 自定义代理关键词规则，keyword支持'|'分隔多个关键词
type ProxyRule struct {
	Remark  string `json:"remark"`
	Keyword string `json:"keyword"`
	Enabled bool   `json:"enabled"`
}

type ProxyConfig struct {
	Enabled bool   `json:"enabled"`
	Url     string `json:"url"`
	Mode    string `json:"mode"` // whitelist | blacklist
	// 内置目标分类。黑名单模式下勾选代表不走代理，白名单模式下勾选代表走代理。
	TargetTmdb   bool        `json:"target_tmdb"`
	TargetDouban bool        `json:"target_douban"`
	TargetEmby   bool        `json:"target_emby"`
	Exclude      string      `json:"exclude"` // 逗号分隔，命中则强制直连
	CustomRules  []ProxyRule `json:"custom_rules"`
}

type DoubanConfig struct {
	Directory   string   `json:"directory"`
	RefreshCron string   `json:"refresh_cron"`
	ExtraFields []string `json:"extra_fields"`
}

type TencentApiConfig struct {
	SecretId  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
}

type SiliconflowApiConfig struct {
	ApiKey                  string            `json:"api_key"`
	ModelName               string            `json:"model_name"`
	ModelRemarks            map[string]string `json:"model_remarks"`
	Temperature             float64           `json:"temperature"`
	TopP                    float64           `json:"top_p"`
	TimeoutSingle           int               `json:"timeout_single"`
	TimeoutBatch            int               `json:"timeout_batch"`
	BatchTranslationEnabled bool              `json:"batch_translation_enabled"`
}

type ActorLocalizerConfig struct {
	ReplaceEnglishRole bool                 `json:"replace_english_role"`
	TranslationEnabled bool                 `json:"translation_enabled"`
	TranslationMode    string               `json:"translation_mode"` // translators | tencent | siliconflow
	TranslatorEngine   string               `json:"translator_engine"`
	ApiCooldownEnabled bool                 `json:"api_cooldown_enabled"`
	ApiCooldownTime    float64              `json:"api_cooldown_time"`
	PersonLimit        int                  `json:"person_limit"`
	Tencent            TencentApiConfig     `json:"tencent"`
	Siliconflow        SiliconflowApiConfig `json:"siliconflow"`
	ApplyCron          string               `json:"apply_cron"`
}

type DoubanFixerConfig struct {
	Cookie      string  `json:"cookie"`
	ApiCooldown float64 `json:"api_cooldown"`
	ScanCron    string  `json:"scan_cron"`
}

type ScheduledTaskItem struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Cron        string `json:"cron"`
	HasSettings bool   `json:"has_settings"`
}

// TargetScope 定时任务和各工作流共用的目标范围
type TargetScope struct {
	Mode             string   `json:"mode"` // latest | all | by_type | by_library | by_search | favorites
	Days             int      `json:"days"`
	Limit            int      `json:"limit"`
	MediaType        string   `json:"media_type"` // Movie | Series
	LibraryIds       []string `json:"library_ids"`
	LibraryBlacklist string   `json:"library_blacklist"`
	ItemIds          []string `json:"item_ids"`
}

type ScheduledTasksConfig struct {
	TargetScope TargetScope         `json:"target_scope"`
	Tasks       []ScheduledTaskItem `json:"tasks"`
}

type DoubanPosterUpdaterConfig struct {
	UpdateInterval    float64 `json:"update_interval"`
	OverwriteExisting bool    `json:"overwrite_existing"`
	SkipMainlandChina bool    `json:"skip_mainland_china"`
}

type WebhookConfig struct {
	Enabled         bool   `json:"enabled"`
	UrlOverride     string `json:"url_override"`
	InitialWaitTime int    `json:"initial_wait_time"`
	PluginWaitTime  int    `json:"plugin_wait_time"`
}

type GithubCooldownConfig struct {
	DownloadCooldown float64 `json:"download_cooldown"`
	UploadCooldown   float64 `json:"upload_cooldown"`
}

type EpisodeRefresherConfig struct {
	RefreshMode               string               `json:"refresh_mode"` // emby | toolbox
	OverwriteMetadata         bool                 `json:"overwrite_metadata"`
	SkipIfComplete            bool                 `json:"skip_if_complete"`
	ScreenshotEnabled         bool                 `json:"screenshot_enabled"`
	ScreenshotPercentage      int                  `json:"screenshot_percentage"`
	ScreenshotFallbackSeconds int                  `json:"screenshot_fallback_seconds"`
	CropWidescreenTo169       bool                 `json:"crop_widescreen_to_16_9"`
	ForceOverwriteScreenshots bool                 `json:"force_overwrite_screenshots"`
	ScreenshotCooldown        float64              `json:"screenshot_cooldown"`
	UseSmartScreenshot        bool                 `json:"use_smart_screenshot"`
	ScreenshotCacheMode       string               `json:"screenshot_cache_mode"` // local | remote | none
	BackupOverwriteLocal      bool                 `json:"backup_overwrite_local"`
	Github                    GithubCooldownConfig `json:"github"`
}

type EpisodeRenamerConfig struct {
	EmbyPathRoot             string  `json:"emby_path_root"`
	ClouddrivePathRoot       string  `json:"clouddrive_path_root"`
	ClouddriveRenameCooldown float64 `json:"clouddrive_rename_cooldown"`
}

// GithubRepoState 仓库容量状态，备份结束后回写
type GithubRepoState struct {
	SizeBytes   int64  `json:"size_bytes"`
	LastChecked string `json:"last_checked"`
}

type GithubRepoConfig struct {
	RepoUrl             string          `json:"repo_url"`
	Branch              string          `json:"branch"`
	PersonalAccessToken string          `json:"personal_access_token"`
	State               GithubRepoState `json:"state"`
}

type PosterManagerConfig struct {
	LocalCachePath              string             `json:"local_cache_path"`
	GithubRepos                 []GithubRepoConfig `json:"github_repos"`
	GlobalPersonalAccessToken   string             `json:"global_personal_access_token"`
	RepositorySizeThresholdMb   int64              `json:"repository_size_threshold_mb"`
	OverwriteRemoteFiles        bool               `json:"overwrite_remote_files"`
	OverwriteOnRestore          bool               `json:"overwrite_on_restore"`
	FileUploadCooldownSeconds   float64            `json:"file_upload_cooldown_seconds"`
	FileDownloadCooldownSeconds float64            `json:"file_download_cooldown_seconds"`
	RestoreMode                 string             `json:"restore_mode"` // remote | local
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatId   string `json:"chat_id"`
}

type TraktConfig struct {
	Enabled      bool   `json:"enabled"`
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type SigninModuleConfig struct {
	Enabled       bool    `json:"enabled"`
	Cron          string  `json:"cron"`
	Cookie        string  `json:"cookie"`
	Notify        bool    `json:"notify"`
	RandomDelay   string  `json:"random_delay"` // "min-max" 秒，仅定时触发时生效
	HistoryDays   int     `json:"history_days"`
	MaxRetries    int     `json:"max_retries"`
	RetryInterval float64 `json:"retry_interval"`
}

type SigninConfig struct {
	Modules map[string]SigninModuleConfig `json:"modules"`
}

type ChasingCenterConfig struct {
	Enabled                  bool   `json:"enabled"`
	WorkflowCron             string `json:"workflow_cron"`
	CalendarNotificationCron string `json:"calendar_notification_cron"`
	CompletionGraceDays      int    `json:"completion_grace_days"`
	CalendarDays             int    `json:"calendar_days"`
}

type UpcomingConfig struct {
	Enabled   bool   `json:"enabled"`
	CheckCron string `json:"check_cron"`
}

type ActorRoleMapperGithubConfig struct {
	RepoUrl             string `json:"repo_url"`
	Branch              string `json:"branch"`
	PersonalAccessToken string `json:"personal_access_token"`
}

type ActorRoleMapperConfig struct {
	ApplyCooldown float64                     `json:"apply_cooldown"`
	Github        ActorRoleMapperGithubConfig `json:"github"`
}

// AppConfig 应用配置文档，对应磁盘上的 <data>/config.json。
// Extra 保留读到的未知顶层键，保存时原样写回。
type AppConfig struct {
	Server              ServerConfig              `json:"server"`
	Download            DownloadConfig            `json:"download"`
	Tmdb                TmdbConfig                `json:"tmdb"`
	Proxy               ProxyConfig               `json:"proxy"`
	Douban              DoubanConfig              `json:"douban"`
	ActorLocalizer      ActorLocalizerConfig      `json:"actor_localizer"`
	DoubanFixer         DoubanFixerConfig         `json:"douban_fixer"`
	ScheduledTasks      ScheduledTasksConfig      `json:"scheduled_tasks"`
	DoubanPosterUpdater DoubanPosterUpdaterConfig `json:"douban_poster_updater"`
	Webhook             WebhookConfig             `json:"webhook"`
	EpisodeRefresher    EpisodeRefresherConfig    `json:"episode_refresher"`
	EpisodeRenamer      EpisodeRenamerConfig      `json:"episode_renamer"`
	PosterManager       PosterManagerConfig       `json:"poster_manager"`
	Telegram            TelegramConfig            `json:"telegram"`
	Trakt               TraktConfig               `json:"trakt"`
	Signin              SigninConfig              `json:"signin"`
	ChasingCenter       ChasingCenterConfig       `json:"chasing_center"`
	Upcoming            UpcomingConfig            `json:"upcoming"`
	ActorRoleMapper     ActorRoleMapperConfig     `json:"actor_role_mapper"`
	GenreMapping        map[string]string         `json:"genre_mapping"`

	Extra map[string]json.RawMessage `json:"-"`
}
