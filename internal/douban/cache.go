package douban

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

const lockTimeout = 10 * time.Second

// CacheActor 缓存里的演员条目
type CacheActor struct {
	Id        string            `json:"id"`
	Name      string            `json:"name"`
	LatinName string            `json:"latin_name"`
	Character string            `json:"character"`
	Avatar    map[string]string `json:"avatar"`
}

// CacheEntry 单部影视的豆瓣缓存条目，按豆瓣ID索引
type CacheEntry struct {
	Type      string            `json:"type"` // Movie | TVShow
	Title     string            `json:"title"`
	Year      string            `json:"year"`
	Genres    []string          `json:"genres"`
	Intro     string            `json:"intro"`
	Pic       map[string]string `json:"pic"`
	Actors    []CacheActor      `json:"actors"`
	ImdbId    string            `json:"imdb_id"`
	Countries []string          `json:"countries"`

	// 可选字段，按配置的extra_fields写入
	Rating       *float64 `json:"rating,omitempty"`
	Pubdate      []string `json:"pubdate,omitempty"`
	CardSubtitle string   `json:"card_subtitle,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	Durations    []string `json:"durations,omitempty"`
}

// rawSubject 豆瓣数据目录里 all.json / series.json 的原始结构
type rawSubject struct {
	Title   string            `json:"title"`
	Year    string            `json:"year"`
	Genres  []string          `json:"genres"`
	Intro   string            `json:"intro"`
	Pic     map[string]string `json:"pic"`
	Actors  []struct {
		Id        json.Number       `json:"id"`
		Name      string            `json:"name"`
		LatinName string            `json:"latin_name"`
		Character string            `json:"character"`
		Avatar    map[string]string `json:"avatar"`
	} `json:"actors"`
	Countries []string `json:"countries"`
	Rating    struct {
		Value float64 `json:"value"`
	} `json:"rating"`
	Pubdate      []string `json:"pubdate"`
	CardSubtitle string   `json:"card_subtitle"`
	Languages    []string `json:"languages"`
	Durations    []string `json:"durations"`
}

// ParseFolderName 从文件夹名解析豆瓣ID和IMDb ID。
// 文件夹名格式为 <douban_id>_<imdb_id> 或纯豆瓣ID。
func ParseFolderName(name string) (doubanId, imdbId string) {
	if strings.Contains(name, "_") {
		parts := strings.SplitN(name, "_", 2)
		if isDigits(parts[0]) && parts[0] != "0" {
			doubanId = parts[0]
		}
		if strings.HasPrefix(parts[1], "tt") {
			imdbId = parts[1]
		}
		return
	}
	if isDigits(name) {
		doubanId = name
	}
	return
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CacheManager 管理本地豆瓣数据缓存 douban_data.json
type CacheManager struct {
	cacheFile string
	log       *helpers.Logger
}

func NewCacheManager(dataDir string, log *helpers.Logger) *CacheManager {
	return &CacheManager{
		cacheFile: filepath.Join(dataDir, "douban_data.json"),
		log:       log.Cat("豆瓣扫描"),
	}
}

func (m *CacheManager) CacheFile() string { return m.cacheFile }

// Load 读取整个缓存，文件缺失时返回空map
func (m *CacheManager) Load() (map[string]CacheEntry, error) {
	data := map[string]CacheEntry{}
	err := helpers.WithFileLock(m.cacheFile, lockTimeout, func() error {
		if !helpers.PathExists(m.cacheFile) {
			return nil
		}
		return helpers.ReadJSONFile(m.cacheFile, &data)
	})
	return data, err
}

// Has 缓存中是否已有该豆瓣ID
func (m *CacheManager) Has(doubanId string) (bool, error) {
	data, err := m.Load()
	if err != nil {
		return false, err
	}
	_, ok := data[doubanId]
	return ok, nil
}

// Insert 增量写入单条缓存，读改写全程持有文件锁
func (m *CacheManager) Insert(doubanId string, entry CacheEntry) error {
	return helpers.WithFileLock(m.cacheFile, lockTimeout, func() error {
		data := map[string]CacheEntry{}
		if helpers.PathExists(m.cacheFile) {
			if err := helpers.ReadJSONFile(m.cacheFile, &data); err != nil {
				m.log.Warnf("读取旧缓存失败，将重建: %v", err)
				data = map[string]CacheEntry{}
			}
		}
		data[doubanId] = entry
		return helpers.WriteJSONAtomic(m.cacheFile, data)
	})
}

// ParseSubjectFile 解析单个元数据文件为缓存条目
func ParseSubjectFile(jsonPath, mediaType, imdbId string, extraFields []string) (*CacheEntry, error) {
	var raw rawSubject
	if err := helpers.ReadJSONFile(jsonPath, &raw); err != nil {
		return nil, err
	}
	entry := &CacheEntry{
		Type:      mediaType,
		Title:     raw.Title,
		Year:      raw.Year,
		Genres:    raw.Genres,
		Intro:     raw.Intro,
		Pic:       raw.Pic,
		ImdbId:    imdbId,
		Countries: raw.Countries,
	}
	if entry.Title == "" {
		entry.Title = "N/A"
	}
	for _, a := range raw.Actors {
		entry.Actors = append(entry.Actors, CacheActor{
			Id:        a.Id.String(),
			Name:      a.Name,
			LatinName: a.LatinName,
			Character: a.Character,
			Avatar:    a.Avatar,
		})
	}
	for _, f := range extraFields {
		switch f {
		case "rating":
			v := raw.Rating.Value
			entry.Rating = &v
		case "pubdate":
			entry.Pubdate = raw.Pubdate
		case "card_subtitle":
			entry.CardSubtitle = raw.CardSubtitle
		case "languages":
			entry.Languages = raw.Languages
		case "durations":
			if mediaType == "Movie" {
				entry.Durations = raw.Durations
			}
		}
	}
	return entry, nil
}

// FindFolder 在豆瓣数据根目录下按豆瓣ID定位媒体文件夹，
// 返回文件夹路径和媒体类型
func FindFolder(root, doubanId string) (string, string, bool) {
	for _, sub := range []struct{ dir, mediaType string }{
		{"douban-movies", "Movie"},
		{"douban-tv", "TVShow"},
	} {
		dir := filepath.Join(root, sub.dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			id, _ := ParseFolderName(e.Name())
			if id == doubanId {
				return filepath.Join(dir, e.Name()), sub.mediaType, true
			}
		}
	}
	return "", "", false
}

// SyncEntryFromDirectory 按豆瓣ID从数据目录解析并写入缓存。
// webhook自动链的增量同步走这里。
func (m *CacheManager) SyncEntryFromDirectory(root, doubanId string, extraFields []string) error {
	if ok, err := m.Has(doubanId); err != nil {
		return err
	} else if ok {
		m.log.Debugf("豆瓣ID %s 已在缓存中，跳过增量同步", doubanId)
		return nil
	}
	folder, mediaType, found := FindFolder(root, doubanId)
	if !found {
		return fmt.Errorf("豆瓣数据目录中未找到ID %s 对应的文件夹", doubanId)
	}
	jsonName := "all.json"
	if mediaType == "TVShow" {
		jsonName = "series.json"
	}
	_, imdbId := ParseFolderName(filepath.Base(folder))
	entry, err := ParseSubjectFile(filepath.Join(folder, jsonName), mediaType, imdbId, extraFields)
	if err != nil {
		return fmt.Errorf("解析 %s 失败: %w", filepath.Join(folder, jsonName), err)
	}
	if err := m.Insert(doubanId, *entry); err != nil {
		return err
	}
	m.log.Infof("已将豆瓣ID %s (%s) 增量写入缓存", doubanId, entry.Title)
	return nil
}

// ScanResult 全量扫描的汇总结果
type ScanResult struct {
	FoundCount         int `json:"found_count"`
	SkippedNoJsonCount int `json:"skipped_no_json_count"`
	SkippedNoIdCount   int `json:"skipped_no_id_count"`
	ErrorJsonCount     int `json:"error_json_count"`
}

type scanFolder struct {
	path      string
	mediaType string
}

// ScanTask 全量扫描豆瓣数据目录并整体重建缓存文件
func (m *CacheManager) ScanTask(root string, extraFields []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		m.log.Info("任务启动，开始扫描豆瓣数据目录")

		var folders []scanFolder
		for _, sub := range []struct{ dir, mediaType string }{
			{"douban-movies", "Movie"},
			{"douban-tv", "TVShow"},
		} {
			dir := filepath.Join(root, sub.dir)
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() {
					folders = append(folders, scanFolder{path: filepath.Join(dir, e.Name()), mediaType: sub.mediaType})
				}
			}
		}

		total := len(folders)
		h.UpdateProgress(0, total)
		m.log.Infof("目录扫描完成，共找到 %d 个媒体文件夹", total)

		final := map[string]CacheEntry{}
		result := ScanResult{}
		for i, f := range folders {
			if ctx.Err() != nil {
				m.log.Warn("任务被用户取消")
				return nil, ctx.Err()
			}
			h.UpdateProgress(i+1, total)

			name := filepath.Base(f.path)
			jsonName := "all.json"
			if f.mediaType == "TVShow" {
				jsonName = "series.json"
			}
			jsonPath := filepath.Join(f.path, jsonName)
			if !helpers.PathExists(jsonPath) {
				result.SkippedNoJsonCount++
				continue
			}
			doubanId, imdbId := ParseFolderName(name)
			if doubanId == "" {
				m.log.Warnf("无法从文件夹名 %s 解析出豆瓣ID，跳过", name)
				result.SkippedNoIdCount++
				continue
			}
			entry, err := ParseSubjectFile(jsonPath, f.mediaType, imdbId, extraFields)
			if err != nil {
				m.log.Errorf("解析元数据文件失败: %s: %v", jsonPath, err)
				result.ErrorJsonCount++
				continue
			}
			final[doubanId] = *entry
			result.FoundCount++
		}

		m.log.Infof("元数据解析完成: 成功 %d, 缺少元数据 %d, 无法解析ID %d, JSON错误 %d",
			result.FoundCount, result.SkippedNoJsonCount, result.SkippedNoIdCount, result.ErrorJsonCount)

		err := helpers.WithFileLock(m.cacheFile, lockTimeout, func() error {
			return helpers.WriteJSONAtomic(m.cacheFile, final)
		})
		if err != nil {
			return nil, fmt.Errorf("写入缓存文件失败: %w", err)
		}
		m.log.Infof("缓存文件写入成功，共 %d 条", result.FoundCount)
		return result, nil
	}
}
