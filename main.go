package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"resty.dev/v3"

	"EmbyToolbox/internal/chasing"
	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/controllers"
	"EmbyToolbox/internal/douban"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/episodes"
	"EmbyToolbox/internal/githubstore"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/localizer"
	"EmbyToolbox/internal/posterman"
	"EmbyToolbox/internal/proxy"
	"EmbyToolbox/internal/rolemap"
	"EmbyToolbox/internal/schedule"
	"EmbyToolbox/internal/selector"
	"EmbyToolbox/internal/signin"
	"EmbyToolbox/internal/taskcenter"
	"EmbyToolbox/internal/tmdb"
	"EmbyToolbox/internal/trakt"
	"EmbyToolbox/internal/webhook"
)

var AppName = "EmbyToolbox"

var ToolboxApp *App

// App 聚合应用的全部长生命周期对象，Start/Stop成对出现
type App struct {
	httpServer *http.Server
	store      *config.Store
	tasks      *taskcenter.Manager
	caster     *taskcenter.Broadcaster
	scheduler  *schedule.Scheduler
	pipeline   *webhook.Pipeline
	embyClient *emby.Client
	tmdbClient *tmdb.Client
	traktAPI   *trakt.Client
	cancel     context.CancelFunc
}

func (app *App) Start(r *gin.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	go taskcenter.RunBroadcastLoop(ctx, app.tasks, app.caster)
	go app.pipeline.Run(ctx)
	app.scheduler.Start()
	app.StartHttpServer(r)
	helpers.AppLogger.Infof("%s %s 启动完成，监听 %s", AppName, helpers.Version, helpers.GlobalConfig.HttpHost)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("收到停止信号")
	case <-helpers.ExitChan:
		log.Println("收到退出请求")
	}
	app.Stop()
	log.Println("应用程序正常退出")
}

func (app *App) Stop() {
	if app.cancel != nil {
		app.cancel()
	}
	app.scheduler.Stop()
	if app.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.httpServer.Shutdown(ctx); err != nil {
			log.Println("HTTP Server Shutdown:", err)
		}
	}
	app.embyClient.Close()
	app.tmdbClient.Close()
	app.traktAPI.Close()
	helpers.CloseLogger()
}

func (app *App) StartHttpServer(r *gin.Engine) {
	app.httpServer = &http.Server{
		Addr:    helpers.GlobalConfig.HttpHost,
		Handler: r,
	}
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Println("ListenAndServe error:", err)
		}
	}()
}

func initTimeZone() {
	cstZone := time.FixedZone("CST", 8*3600)
	time.Local = cstZone
}

func checkRelease() {
	name := strings.ToLower(filepath.Base(os.Args[0]))
	helpers.IsRelease = strings.HasPrefix(name, "embytoolbox") && !strings.Contains(strings.ToLower(os.Args[0]), "go-build")
}

// initDirs 确定根目录并创建config/data子目录
func initDirs() error {
	checkRelease()
	rootDir := os.Getenv("EMBYTOOLBOX_ROOT")
	if rootDir == "" {
		if helpers.IsRelease {
			ex, err := os.Executable()
			if err != nil {
				return err
			}
			rootDir = filepath.Dir(ex)
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			rootDir = wd
		}
	}
	helpers.RootDir = rootDir
	helpers.ConfigDir = filepath.Join(rootDir, "config")
	helpers.DataDir = filepath.Join(rootDir, "data")
	if err := os.MkdirAll(helpers.ConfigDir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	if err := os.MkdirAll(helpers.DataDir, 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	return nil
}

// newImageFetcher 通用的外部图片下载函数，按目标URL决定代理
func newImageFetcher(resolver *proxy.Resolver) func(ctx context.Context, url string) ([]byte, string, error) {
	return func(ctx context.Context, url string) ([]byte, string, error) {
		client := resty.New().SetTimeout(60 * time.Second)
		defer client.Close()
		if proxyURL := resolver.ProxyFor(url); proxyURL != "" {
			client.SetProxy(proxyURL)
		}
		res, err := client.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, "", err
		}
		if res.IsError() {
			return nil, "", fmt.Errorf("下载图片失败 %s: HTTP %d", url, res.StatusCode())
		}
		return res.Bytes(), res.Header().Get("Content-Type"), nil
	}
}

func main() {
	initTimeZone()
	if err := initDirs(); err != nil {
		log.Fatalf("初始化目录失败: %v", err)
	}
	if err := helpers.InitConfig(); err != nil {
		log.Fatalf("加载运行时配置失败: %v", err)
	}
	helpers.InitEventBus()

	logger, err := helpers.NewLogger(helpers.GlobalConfig.Log.File, !helpers.IsRelease, true)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	helpers.AppLogger = logger

	store := config.NewStore(filepath.Join(helpers.DataDir, "config.json"), logger)
	cfg, err := store.Load()
	if err != nil {
		log.Fatalf("加载应用配置失败: %v", err)
	}

	// loadCfg 各处按需取最新配置，读不到时退回缺省值
	loadCfg := func() *config.AppConfig {
		c, err := store.Load()
		if err != nil {
			logger.Errorf("读取配置失败，使用缺省值: %v", err)
			return config.Default()
		}
		return c
	}

	resolver := proxy.NewResolver(cfg, logger)
	fetchImage := newImageFetcher(resolver)

	embyClient := emby.NewClient(cfg.Server.Server, cfg.Server.ApiKey, cfg.Server.UserId,
		resolver.ProxyFor(cfg.Server.Server), logger)
	tmdbClient, err := tmdb.NewClient(cfg.Tmdb, resolver.ProxyFor("https://api.themoviedb.org"), logger)
	if err != nil {
		log.Fatalf("初始化TMDB客户端失败: %v", err)
	}
	traktAPI := trakt.NewClient(cfg.Trakt, resolver.ProxyFor("https://api.trakt.tv"), logger)

	ghClient := githubstore.NewClient(resolver.ProxyFor("https://api.github.com"), logger)
	ghStore := githubstore.NewStore(ghClient, helpers.DataDir, logger)
	agg := githubstore.NewAggregator(ghClient, func() ([]config.GithubRepoConfig, string) {
		c := loadCfg().PosterManager
		return c.GithubRepos, c.GlobalPersonalAccessToken
	}, helpers.DataDir, logger)

	// persistSizes 备份任务结束后回写各仓库的容量状态
	persistSizes := func(sizes map[string]int64) {
		c, err := store.Load()
		if err != nil {
			logger.Errorf("回写仓库容量失败: %v", err)
			return
		}
		now := time.Now().Format(time.RFC3339)
		for i := range c.PosterManager.GithubRepos {
			repo := &c.PosterManager.GithubRepos[i]
			if size, found := sizes[repo.RepoUrl]; found {
				repo.State.SizeBytes = size
				repo.State.LastChecked = now
			}
		}
		if err := store.Save(c); err != nil {
			logger.Errorf("回写仓库容量失败: %v", err)
		}
	}

	cache := douban.NewCacheManager(helpers.DataDir, logger)
	fixer := douban.NewFixer(cfg.DoubanFixer, embyClient, resolver.ProxyFor("https://www.douban.com"), helpers.DataDir, logger)

	translator := localizer.NewTranslator(cfg.ActorLocalizer, resolver.ProxyFor, logger)
	loc := localizer.New(embyClient, cache, translator,
		func() config.ActorLocalizerConfig { return loadCfg().ActorLocalizer }, logger)

	genreMapper := localizer.NewGenreMapper(embyClient,
		func() map[string]string { return loadCfg().GenreMapping }, logger)

	sel := selector.New(embyClient, logger)

	refresher := episodes.NewRefresher(embyClient, tmdbClient, agg.Get,
		func(ctx context.Context, entry githubstore.ImageEntry) ([]byte, error) {
			return ghStore.Download(ctx, entry, loadCfg().PosterManager.GlobalPersonalAccessToken)
		},
		fetchImage,
		func() config.EpisodeRefresherConfig { return loadCfg().EpisodeRefresher },
		helpers.DataDir, logger)
	renamer := episodes.NewRenamer(embyClient,
		func() config.EpisodeRenamerConfig { return loadCfg().EpisodeRenamer },
		helpers.DataDir, logger)
	screenshots := episodes.NewScreenshotBackup(ghStore, agg,
		func() config.PosterManagerConfig { return loadCfg().PosterManager },
		func() config.EpisodeRefresherConfig { return loadCfg().EpisodeRefresher },
		persistSizes, helpers.DataDir, logger)

	posterMgr := posterman.NewManager(embyClient, sel.Resolve, ghStore, agg,
		func() config.PosterManagerConfig { return loadCfg().PosterManager },
		persistSizes, helpers.DataDir, logger)
	posterUpd := posterman.NewUpdater(embyClient, cache.Load, fetchImage,
		func() config.DoubanPosterUpdaterConfig { return loadCfg().DoubanPosterUpdater }, logger)

	roleCfg := func() config.ActorRoleMapperConfig { return loadCfg().ActorRoleMapper }
	roleMapper := rolemap.NewMapper(embyClient, ghClient, roleCfg, helpers.DataDir, logger)
	avatarMapper := rolemap.NewAvatarMapper(embyClient, ghClient, fetchImage, roleCfg, helpers.DataDir, logger)

	// notify 所有Telegram通知的出口，每次发送读当前配置
	notify := func(text string) error {
		c := loadCfg().Telegram
		if !c.Enabled {
			return fmt.Errorf("未启用Telegram通知")
		}
		bot, err := helpers.NewTelegramBot(c.BotToken, c.ChatId, resolver.ProxyFor("https://api.telegram.org"))
		if err != nil {
			return err
		}
		return bot.SendMessage(text)
	}

	chasingList := chasing.NewList(embyClient, helpers.DataDir, logger)
	center := chasing.NewCenter(chasingList, embyClient, tmdbClient, traktAPI.LatestSeasonAirTimes,
		func(ctx context.Context, episodeIds []string) error {
			_, err := refresher.RefreshEpisodesTask(episodeIds)(ctx, taskcenter.NewNopHandle())
			return err
		},
		notify,
		func() config.ChasingCenterConfig { return loadCfg().ChasingCenter }, logger)
	upcoming := chasing.NewUpcoming(tmdbClient, notify, helpers.DataDir, logger)

	signinMgr := signin.NewManager(
		[]signin.Module{signin.NewHdhive(resolver.ProxyFor("https://hdhive.online"), logger)},
		notify,
		func() config.SigninConfig { return loadCfg().Signin },
		helpers.DataDir, logger)

	tasks := taskcenter.NewManager(logger)
	caster := taskcenter.NewBroadcaster(logger)

	pipeline := webhook.NewPipeline(embyClient, fixer, cache,
		func(ctx context.Context, itemId string) error {
			doubanMap, err := cache.Load()
			if err != nil {
				return err
			}
			_, err = loc.ProcessItem(ctx, itemId, doubanMap)
			return err
		},
		func(ctx context.Context, h *taskcenter.Handle, itemIds []string) error {
			_, err := posterUpd.Run(ctx, h, itemIds)
			return err
		},
		tasks,
		func() config.WebhookConfig { return loadCfg().Webhook },
		func() config.DoubanConfig { return loadCfg().Douban },
		logger)

	// resolveScope 定时任务触发时解析当前配置的目标范围
	resolveScope := func(ctx context.Context) ([]string, error) {
		return sel.Resolve(ctx, loadCfg().ScheduledTasks.TargetScope, selector.TargetAny)
	}
	scopedTask := func(build func(ids []string) taskcenter.TaskFunc) func() taskcenter.TaskFunc {
		return func() taskcenter.TaskFunc {
			return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
				ids, err := resolveScope(ctx)
				if err != nil {
					return nil, err
				}
				return build(ids)(ctx, h)
			}
		}
	}

	scheduler := schedule.NewScheduler(tasks, loadCfg, logger)
	scheduledCron := func(taskId string) func(*config.AppConfig) (string, bool) {
		return func(c *config.AppConfig) (string, bool) {
			for _, item := range c.ScheduledTasks.Tasks {
				if item.Id == taskId {
					return item.Cron, item.Enabled
				}
			}
			return "", false
		}
	}
	scheduler.AddJob(schedule.Job{
		Id: "scheduled_actor_localizer", TaskName: "定时-演员中文化",
		Cron: scheduledCron("actor_localizer"),
		Task: scopedTask(loc.ApplyTask),
	})
	scheduler.AddJob(schedule.Job{
		Id: "scheduled_douban_fixer", TaskName: "定时-豆瓣ID修复器",
		Cron: scheduledCron("douban_fixer"),
		Task: scopedTask(fixer.FixItemsTask),
	})
	scheduler.AddJob(schedule.Job{
		Id: "scheduled_douban_poster_updater", TaskName: "定时-豆瓣海报更新",
		Cron: scheduledCron("douban_poster_updater"),
		Task: scopedTask(posterUpd.UpdateTask),
	})
	scheduler.AddJob(schedule.Job{
		Id: "scheduled_episode_refresher", TaskName: "定时-剧集元数据刷新",
		Cron: scheduledCron("episode_refresher"),
		Task: scopedTask(refresher.RefreshSeriesTask),
	})
	scheduler.AddJob(schedule.Job{
		Id: "scheduled_episode_renamer", TaskName: "定时-剧集文件重命名",
		Cron: scheduledCron("episode_renamer"),
		Task: scopedTask(func(seriesIds []string) taskcenter.TaskFunc {
			return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
				for _, seriesId := range seriesIds {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					if _, err := renamer.ScanForRenameTask(seriesId)(ctx, h); err != nil {
						logger.Warnf("剧集 %s 重命名扫描失败: %v", seriesId, err)
					}
				}
				return nil, nil
			}
		}),
	})
	scheduler.AddJob(schedule.Job{
		Id: "scheduled_actor_role_mapper", TaskName: "定时-演员角色映射",
		Cron: scheduledCron("actor_role_mapper"),
		Task: scopedTask(func(ids []string) taskcenter.TaskFunc {
			return roleMapper.GenerateTask(ids, loadCfg().Download.NfoActorLimit)
		}),
	})
	scheduler.AddJob(schedule.Job{
		Id: "douban_refresh_job", TaskName: "豆瓣缓存刷新",
		Cron: func(c *config.AppConfig) (string, bool) {
			return c.Douban.RefreshCron, c.Douban.Directory != ""
		},
		Task: func() taskcenter.TaskFunc {
			return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
				c := loadCfg().Douban
				return cache.ScanTask(c.Directory, c.ExtraFields)(ctx, h)
			}
		},
	})
	scheduler.AddJob(schedule.Job{
		Id: "douban_fixer_scan_job", TaskName: "豆瓣ID缺失扫描",
		Cron: func(c *config.AppConfig) (string, bool) {
			return c.DoubanFixer.ScanCron, true
		},
		Task: func() taskcenter.TaskFunc {
			return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
				items, err := embyClient.FetchAllItems(ctx, map[string]string{
					"Recursive":        "true",
					"IncludeItemTypes": "Movie,Series",
					"Fields":           "ProviderIds",
				})
				if err != nil {
					return nil, err
				}
				var missing []string
				for _, item := range items {
					if item.DoubanId() == "" {
						missing = append(missing, item.Id)
					}
				}
				logger.Infof("扫描到 %d 个缺少豆瓣ID的媒体", len(missing))
				return fixer.FixItemsTask(missing)(ctx, h)
			}
		},
	})
	scheduler.AddJob(schedule.Job{
		Id: "actor_localizer_apply_job", TaskName: "演员中文化-定时应用",
		Cron: func(c *config.AppConfig) (string, bool) {
			return c.ActorLocalizer.ApplyCron, true
		},
		Task: scopedTask(loc.ApplyTask),
	})
	scheduler.AddJob(schedule.Job{
		Id: "signin_hdhive", TaskName: "签到-影巢",
		Cron: func(c *config.AppConfig) (string, bool) {
			m := c.Signin.Modules["hdhive"]
			return m.Cron, m.Enabled
		},
		Task: func() taskcenter.TaskFunc { return signinMgr.RunTask("hdhive", false) },
	})
	scheduler.AddJob(schedule.Job{
		Id: "chasing_workflow_daily", TaskName: "追更-每日维护",
		Cron: func(c *config.AppConfig) (string, bool) {
			return c.ChasingCenter.WorkflowCron, c.ChasingCenter.Enabled
		},
		Task: center.WorkflowTask,
	})
	scheduler.AddJob(schedule.Job{
		Id: "chasing_calendar_notification", TaskName: "追更-日历通知",
		Cron: func(c *config.AppConfig) (string, bool) {
			return c.ChasingCenter.CalendarNotificationCron, c.ChasingCenter.Enabled
		},
		Task: center.CalendarTask,
	})
	scheduler.AddJob(schedule.Job{
		Id: "upcoming_check_job", TaskName: "即将上映-订阅检查",
		Cron: func(c *config.AppConfig) (string, bool) {
			return c.Upcoming.CheckCron, c.Upcoming.Enabled
		},
		Task: upcoming.CheckTask,
	})

	runnable := []controllers.TaskDefinition{
		{Id: "generate_id_map", Name: "重建媒体ID映射", Task: func() taskcenter.TaskFunc {
			return sel.GenerateIdMapTask(helpers.DataDir)
		}},
		{Id: "douban_cache_scan", Name: "豆瓣缓存全量扫描", Task: func() taskcenter.TaskFunc {
			return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
				c := loadCfg().Douban
				return cache.ScanTask(c.Directory, c.ExtraFields)(ctx, h)
			}
		}},
		{Id: "actor_localizer_apply", Name: "演员中文化", Task: scopedTask(loc.ApplyTask)},
		{Id: "genre_localize", Name: "类型中文化", Task: scopedTask(genreMapper.ApplyTask)},
		{Id: "douban_fixer_fix", Name: "豆瓣ID修复", Task: scopedTask(fixer.FixItemsTask)},
		{Id: "douban_poster_update", Name: "豆瓣海报更新", Task: scopedTask(posterUpd.UpdateTask)},
		{Id: "episode_refresh", Name: "剧集元数据刷新", Task: scopedTask(refresher.RefreshSeriesTask)},
		{Id: "poster_backup", Name: "海报备份到图床", Task: func() taskcenter.TaskFunc {
			return posterMgr.BackupTask(loadCfg().ScheduledTasks.TargetScope, posterman.AllContentTypes())
		}},
		{Id: "poster_restore", Name: "海报从图床恢复", Task: func() taskcenter.TaskFunc {
			c := loadCfg()
			if c.PosterManager.RestoreMode == "local" {
				return posterMgr.RestoreFromLocalTask(c.ScheduledTasks.TargetScope, posterman.AllContentTypes())
			}
			return posterMgr.RestoreFromRemoteTask(c.ScheduledTasks.TargetScope, posterman.AllContentTypes())
		}},
		{Id: "screenshot_backup", Name: "分集截图备份", Task: screenshots.BackupTask},
		{Id: "rolemap_generate", Name: "生成演员角色映射", Task: scopedTask(func(ids []string) taskcenter.TaskFunc {
			return roleMapper.GenerateTask(ids, loadCfg().Download.NfoActorLimit)
		})},
		{Id: "rolemap_restore", Name: "恢复演员角色映射", Task: scopedTask(roleMapper.RestoreTask)},
		{Id: "rolemap_upload", Name: "上传角色映射到GitHub", Task: roleMapper.UploadTask},
		{Id: "rolemap_download", Name: "从GitHub下载角色映射", Task: roleMapper.DownloadTask},
		{Id: "avatar_restore", Name: "恢复演员头像", Task: func() taskcenter.TaskFunc {
			return avatarMapper.RestoreAllTask(loadCfg().ActorRoleMapper.ApplyCooldown)
		}},
		{Id: "avatar_upload", Name: "上传头像映射到GitHub", Task: avatarMapper.UploadTask},
		{Id: "avatar_download", Name: "从GitHub下载头像映射", Task: avatarMapper.DownloadTask},
		{Id: "chasing_workflow", Name: "追更每日维护", Task: center.WorkflowTask},
		{Id: "chasing_calendar", Name: "追剧日历通知", Task: center.CalendarTask},
		{Id: "upcoming_check", Name: "即将上映订阅检查", Task: upcoming.CheckTask},
		{Id: "signin_hdhive", Name: "影巢手动签到", Task: func() taskcenter.TaskFunc {
			return signinMgr.RunTask("hdhive", true)
		}},
	}

	if helpers.IsRelease {
		gin.SetMode(gin.ReleaseMode)
	}
	r := controllers.NewRouter(&controllers.Deps{
		Store:           store,
		Tasks:           tasks,
		TaskBroadcaster: caster,
		Webhook:         pipeline,
		RunnableTasks:   runnable,
		Logger:          logger,
	})

	ToolboxApp = &App{
		store:      store,
		tasks:      tasks,
		caster:     caster,
		scheduler:  scheduler,
		pipeline:   pipeline,
		embyClient: embyClient,
		tmdbClient: tmdbClient,
		traktAPI:   traktAPI,
	}
	ToolboxApp.Start(r)
}
