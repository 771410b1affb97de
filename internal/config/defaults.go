package config

// DefaultGenreMap TMDB英文类型到中文类型的默认映射
var DefaultGenreMap = map[string]string{
	"Action": "动作", "Adventure": "冒险", "Animation": "动画", "Comedy": "喜剧",
	"Crime": "犯罪", "Documentary": "纪录片", "Drama": "剧情", "Family": "家庭",
	"Fantasy": "奇幻", "History": "历史", "Horror": "恐怖", "Music": "音乐",
	"Mystery": "悬疑", "Romance": "爱情", "Science Fiction": "科幻",
	"Thriller": "惊悚", "War": "战争", "Western": "西部", "TV Movie": "电视电影",
	"Sci-Fi & Fantasy": "科幻奇幻", "Suspense": "惊悚", "Sport": "运动", "War & Politics": "战争政治",
}

var defaultSfModelRemarks = map[string]string{
	"Qwen/Qwen2-7B-Instruct":      "（推荐，免费）",
	"THUDM/glm-4-9b-chat":         "（推荐，免费）",
	"internlm/internlm2_5-7b-chat": "（免费）",
	"Qwen/Qwen2.5-72B-Instruct":   "（性能强，￥4.13/ M Tokens）",
	"Qwen/Qwen2.5-7B-Instruct":    "（免费）",
}

// DefaultScheduledTasks 默认的定时任务清单；加载时缺失的条目会补齐
func DefaultScheduledTasks() []ScheduledTaskItem {
	return []ScheduledTaskItem{
		{Id: "actor_localizer", Name: "演员中文化", HasSettings: true},
		{Id: "douban_fixer", Name: "豆瓣ID修复器", HasSettings: true},
		{Id: "douban_poster_updater", Name: "豆瓣海报更新", HasSettings: true},
		{Id: "episode_refresher", Name: "剧集元数据刷新", HasSettings: true},
		{Id: "episode_renamer", Name: "剧集文件重命名", HasSettings: false},
		{Id: "actor_role_mapper", Name: "演员角色映射", HasSettings: true},
	}
}

// Default 返回带全部缺省值的配置文档
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{},
		Download: DownloadConfig{
			DownloadBehavior:    "skip",
			DirectoryNamingRule: "tmdb_id",
			NfoActorLimit:       20,
		},
		Tmdb: TmdbConfig{
			CustomApiDomain: "https://api.themoviedb.org",
		},
		Proxy: ProxyConfig{
			Mode:         "blacklist",
			TargetDouban: true,
			TargetEmby:   true,
			CustomRules:  []ProxyRule{},
		},
		Douban: DoubanConfig{
			ExtraFields: []string{},
		},
		ActorLocalizer: ActorLocalizerConfig{
			TranslationMode:    "translators",
			TranslatorEngine:   "baidu",
			ApiCooldownEnabled: true,
			ApiCooldownTime:    0.2,
			PersonLimit:        15,
			Tencent: TencentApiConfig{
				Region: "ap-guangzhou",
			},
			Siliconflow: SiliconflowApiConfig{
				ModelName:               "Qwen/Qwen2-7B-Instruct",
				ModelRemarks:            defaultSfModelRemarks,
				TopP:                    1.0,
				TimeoutSingle:           20,
				TimeoutBatch:            45,
				BatchTranslationEnabled: true,
			},
		},
		DoubanFixer: DoubanFixerConfig{
			ApiCooldown: 2.0,
		},
		ScheduledTasks: ScheduledTasksConfig{
			TargetScope: TargetScope{
				Mode:      "latest",
				Days:      7,
				Limit:     100,
				MediaType: "Movie",
			},
			Tasks: DefaultScheduledTasks(),
		},
		DoubanPosterUpdater: DoubanPosterUpdaterConfig{
			UpdateInterval: 1.0,
		},
		Webhook: WebhookConfig{
			InitialWaitTime: 30,
			PluginWaitTime:  60,
		},
		EpisodeRefresher: EpisodeRefresherConfig{
			RefreshMode:               "emby",
			OverwriteMetadata:         true,
			SkipIfComplete:            true,
			ScreenshotPercentage:      10,
			ScreenshotFallbackSeconds: 150,
			CropWidescreenTo169:       true,
			ScreenshotCooldown:        2.0,
			UseSmartScreenshot:        true,
			ScreenshotCacheMode:       "local",
			Github: GithubCooldownConfig{
				DownloadCooldown: 0.5,
				UploadCooldown:   1.0,
			},
		},
		EpisodeRenamer: EpisodeRenamerConfig{
			EmbyPathRoot:             "/media",
			ClouddrivePathRoot:       "/cd2",
			ClouddriveRenameCooldown: 1.0,
		},
		PosterManager: PosterManagerConfig{
			GithubRepos:                 []GithubRepoConfig{},
			RepositorySizeThresholdMb:   900,
			FileUploadCooldownSeconds:   1.0,
			FileDownloadCooldownSeconds: 0.5,
			RestoreMode:                 "remote",
		},
		Telegram: TelegramConfig{},
		Trakt:    TraktConfig{},
		Signin: SigninConfig{
			Modules: map[string]SigninModuleConfig{
				"hdhive": {
					Cron:          "0 8 * * *",
					RandomDelay:   "0-300",
					HistoryDays:   30,
					MaxRetries:    3,
					RetryInterval: 30,
				},
			},
		},
		ChasingCenter: ChasingCenterConfig{
			WorkflowCron:        "0 6 * * *",
			CompletionGraceDays: 30,
			CalendarDays:        7,
		},
		Upcoming: UpcomingConfig{},
		ActorRoleMapper: ActorRoleMapperConfig{
			ApplyCooldown: 0.2,
			Github:        ActorRoleMapperGithubConfig{Branch: "main"},
		},
		GenreMapping: copyGenreMap(),
	}
}

func copyGenreMap() map[string]string {
	m := make(map[string]string, len(DefaultGenreMap))
	for k, v := range DefaultGenreMap {
		m[k] = v
	}
	return m
}
