package selector

import (
	"context"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
)

// 调用方限定的目标媒体类型
const (
	TargetAny     = ""
	TargetMovies  = "movies"
	TargetTvshows = "tvshows"
)

// EmbyReader 选择器需要的Emby读能力
type EmbyReader interface {
	Items(ctx context.Context, params map[string]string) (*emby.QueryResult, error)
	FetchAllItems(ctx context.Context, params map[string]string) ([]emby.BaseItem, error)
	Latest(ctx context.Context, itemTypes string, limit int) ([]emby.BaseItem, error)
	Views(ctx context.Context) ([]emby.View, error)
}

// Selector 把抽象的目标范围解析为具体的Emby条目id列表
type Selector struct {
	emby EmbyReader
	log  *helpers.Logger
}

func New(reader EmbyReader, log *helpers.Logger) *Selector {
	return &Selector{emby: reader, log: log.Cat("媒体选择器")}
}

// Resolve 解析范围。target限定媒体类型，空串表示不限。
// 结果无重复id，顺序与服务端返回顺序一致。
func (s *Selector) Resolve(ctx context.Context, scope config.TargetScope, target string) ([]string, error) {
	s.log.Infof("开始根据范围 %s 获取媒体ID", scope.Mode)
	switch scope.Mode {
	case "by_search":
		return dedup(scope.ItemIds), nil
	case "favorites":
		return s.resolveFavorites(ctx, target)
	case "latest":
		return s.resolveLatest(ctx, scope)
	case "by_type":
		return s.resolveByType(ctx, scope, target)
	case "by_library":
		return s.resolveByLibrary(ctx, scope, target)
	case "all":
		return s.resolveAll(ctx, scope, target)
	}
	s.log.Warnf("未知的范围模式: %s", scope.Mode)
	return nil, nil
}

// resolveFavorites 分别查收藏的电影、剧集和分集；
// 收藏的分集上提为所属剧集id后参与并集。
func (s *Selector) resolveFavorites(ctx context.Context, target string) ([]string, error) {
	var ids []string

	if target == TargetAny || target == TargetMovies {
		movies, err := s.favoriteItems(ctx, "Movie", "Id,Name")
		if err != nil {
			return nil, err
		}
		for _, it := range movies {
			ids = append(ids, it.Id)
		}
	}

	if target == TargetAny || target == TargetTvshows {
		series, err := s.favoriteItems(ctx, "Series", "Id,Name")
		if err != nil {
			return nil, err
		}
		for _, it := range series {
			ids = append(ids, it.Id)
		}
		episodes, err := s.favoriteItems(ctx, "Episode", "Id,Name,SeriesId")
		if err != nil {
			return nil, err
		}
		for _, it := range episodes {
			if it.SeriesId != "" {
				ids = append(ids, it.SeriesId)
			}
		}
	}

	out := dedup(ids)
	s.log.Infof("收藏范围解析出 %d 个媒体ID", len(out))
	return out, nil
}

func (s *Selector) favoriteItems(ctx context.Context, itemType, fields string) ([]emby.BaseItem, error) {
	return s.emby.FetchAllItems(ctx, map[string]string{
		"Recursive":        "true",
		"Filters":          "IsFavorite",
		"IncludeItemTypes": itemType,
		"Fields":           fields,
	})
}

// resolveLatest 最新入库，按DateCreated过滤最近N天，最多M条
func (s *Selector) resolveLatest(ctx context.Context, scope config.TargetScope) ([]string, error) {
	if scope.Days <= 0 {
		return nil, nil
	}
	all, err := s.emby.Latest(ctx, "Movie,Series,Episode", 500)
	if err != nil {
		s.log.Errorf("获取最新项目失败: %v", err)
		return nil, err
	}
	s.log.Infof("从Emby获取到 %d 个原始最新项目", len(all))

	cutoff := time.Now().UTC().AddDate(0, 0, -scope.Days)
	var ids []string
	for _, it := range all {
		if it.DateCreated == "" {
			continue
		}
		created, err := time.Parse(time.RFC3339, it.DateCreated)
		if err != nil {
			continue
		}
		// 服务端按入库时间倒序返回，遇到更早的条目即可停止
		if created.Before(cutoff) {
			break
		}
		ids = append(ids, it.Id)
		if scope.Limit > 0 && len(ids) >= scope.Limit {
			break
		}
	}
	out := dedup(ids)
	s.log.Infof("成功获取 %d 个最新入库的媒体ID", len(out))
	return out, nil
}

func (s *Selector) resolveByType(ctx context.Context, scope config.TargetScope, target string) ([]string, error) {
	if scope.MediaType == "" {
		return nil, nil
	}
	// 目标类型与配置的媒体类型冲突时返回空
	if (target == TargetMovies && scope.MediaType != "Movie") ||
		(target == TargetTvshows && scope.MediaType != "Series") {
		return nil, nil
	}
	items, err := s.emby.FetchAllItems(ctx, map[string]string{
		"Recursive":        "true",
		"IncludeItemTypes": scope.MediaType,
		"Fields":           "Id,ParentId",
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Id)
	}
	return dedup(ids), nil
}

func (s *Selector) resolveByLibrary(ctx context.Context, scope config.TargetScope, target string) ([]string, error) {
	if len(scope.LibraryIds) == 0 {
		return nil, nil
	}
	var ids []string
	for _, libId := range scope.LibraryIds {
		items, err := s.emby.FetchAllItems(ctx, map[string]string{
			"ParentId":         libId,
			"Recursive":        "true",
			"IncludeItemTypes": typesFor(target),
			"Fields":           "Id,ParentId",
		})
		if err != nil {
			// 单个库失败不影响其余库，失败前取到的分页仍然保留
			s.log.Errorf("获取媒体库 %s 的条目失败: %v", libId, err)
		}
		for _, it := range items {
			ids = append(ids, it.Id)
		}
	}
	return dedup(ids), nil
}

func (s *Selector) resolveAll(ctx context.Context, scope config.TargetScope, target string) ([]string, error) {
	views, err := s.emby.Views(ctx)
	if err != nil {
		return nil, err
	}
	blacklist := map[string]bool{}
	for _, name := range helpers.TrimSplit(scope.LibraryBlacklist, ",") {
		blacklist[name] = true
	}

	var ids []string
	for _, view := range views {
		if blacklist[view.Name] {
			s.log.Infof("媒体库 %s 命中黑名单，跳过", view.Name)
			continue
		}
		if target == TargetMovies && view.CollectionType != "" && view.CollectionType != "movies" {
			continue
		}
		if target == TargetTvshows && view.CollectionType != "" && view.CollectionType != "tvshows" {
			continue
		}
		items, err := s.emby.FetchAllItems(ctx, map[string]string{
			"ParentId":         view.Id,
			"Recursive":        "true",
			"IncludeItemTypes": typesFor(target),
			"Fields":           "Id,ParentId",
		})
		if err != nil {
			s.log.Errorf("获取媒体库 %s 的条目失败: %v", view.Name, err)
		}
		for _, it := range items {
			ids = append(ids, it.Id)
		}
	}
	out := dedup(ids)
	s.log.Infof("成功获取 %d 个媒体ID", len(out))
	return out, nil
}

func typesFor(target string) string {
	switch target {
	case TargetMovies:
		return "Movie"
	case TargetTvshows:
		return "Series"
	default:
		return "Movie,Series"
	}
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
