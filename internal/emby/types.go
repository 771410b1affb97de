package emby

import "strings"

// Person 媒体条目的演职人员
type Person struct {
	Name            string `json:"Name"`
	Id              string `json:"Id,omitempty"`
	Role            string `json:"Role,omitempty"`
	Type            string `json:"Type,omitempty"`
	PrimaryImageTag string `json:"PrimaryImageTag,omitempty"`

	ProviderIds map[string]string `json:"ProviderIds,omitempty"`
}

// TmdbId 演职人员的TMDB ID，键名大小写不敏感
func (p *Person) TmdbId() string {
	for k, v := range p.ProviderIds {
		if strings.EqualFold(k, "tmdb") {
			return v
		}
	}
	return ""
}

type UserData struct {
	IsFavorite bool `json:"IsFavorite"`
	Played     bool `json:"Played"`
}

type NameIdPair struct {
	Name string `json:"Name"`
	Id   int64  `json:"Id,omitempty"`
}

type MediaSource struct {
	Id        string `json:"Id,omitempty"`
	Path      string `json:"Path,omitempty"`
	Container string `json:"Container,omitempty"`
	Size      int64  `json:"Size,omitempty"`
}

// BaseItem Emby媒体条目。字段按需请求，未请求的字段为零值。
type BaseItem struct {
	Name                string            `json:"Name,omitempty"`
	Id                  string            `json:"Id,omitempty"`
	Type                string            `json:"Type,omitempty"` // Movie | Series | Season | Episode | BoxSet ...
	Path                string            `json:"Path,omitempty"`
	Overview            string            `json:"Overview,omitempty"`
	SeriesId            string            `json:"SeriesId,omitempty"`
	SeriesName          string            `json:"SeriesName,omitempty"`
	SeasonId            string            `json:"SeasonId,omitempty"`
	ParentId            string            `json:"ParentId,omitempty"`
	IndexNumber         *int              `json:"IndexNumber,omitempty"`
	ParentIndexNumber   *int              `json:"ParentIndexNumber,omitempty"`
	ProductionYear      int               `json:"ProductionYear,omitempty"`
	PremiereDate        string            `json:"PremiereDate,omitempty"`
	DateCreated         string            `json:"DateCreated,omitempty"`
	ProviderIds         map[string]string `json:"ProviderIds,omitempty"`
	ImageTags           map[string]string `json:"ImageTags,omitempty"`
	BackdropImageTags   []string          `json:"BackdropImageTags,omitempty"`
	Genres              []string          `json:"Genres,omitempty"`
	GenreItems          []NameIdPair      `json:"GenreItems,omitempty"`
	TagItems            []NameIdPair      `json:"TagItems,omitempty"`
	People              []Person          `json:"People,omitempty"`
	LockedFields        []string          `json:"LockedFields,omitempty"`
	ProductionLocations []string          `json:"ProductionLocations,omitempty"`
	MediaSources        []MediaSource     `json:"MediaSources,omitempty"`
	UserData            *UserData         `json:"UserData,omitempty"`
	RecursiveItemCount  int               `json:"RecursiveItemCount,omitempty"`
	ChildCount          int               `json:"ChildCount,omitempty"`
	Status              string            `json:"Status,omitempty"` // Continuing | Ended，仅剧集
	CommunityRating     float64           `json:"CommunityRating,omitempty"`
	OfficialRating      string            `json:"OfficialRating,omitempty"`
	RunTimeTicks        int64             `json:"RunTimeTicks,omitempty"`
}

// TmdbId 返回条目的TMDB ID，没有时为空串
func (it *BaseItem) TmdbId() string {
	if it.ProviderIds == nil {
		return ""
	}
	if v, ok := it.ProviderIds["Tmdb"]; ok {
		return v
	}
	return it.ProviderIds["tmdb"]
}

// ImdbId 返回条目的IMDb ID，没有时为空串
func (it *BaseItem) ImdbId() string {
	if it.ProviderIds == nil {
		return ""
	}
	if v, ok := it.ProviderIds["Imdb"]; ok {
		return v
	}
	return it.ProviderIds["imdb"]
}

// DoubanId 返回条目的豆瓣ID，没有时为空串
func (it *BaseItem) DoubanId() string {
	if it.ProviderIds == nil {
		return ""
	}
	if v, ok := it.ProviderIds["Douban"]; ok {
		return v
	}
	return it.ProviderIds["DoubanID"]
}

type QueryResult struct {
	Items            []BaseItem `json:"Items"`
	TotalRecordCount int        `json:"TotalRecordCount"`
}

// View 用户视图（媒体库入口）
type View struct {
	Name           string `json:"Name"`
	Id             string `json:"Id"`
	CollectionType string `json:"CollectionType,omitempty"`
}

type viewsResponse struct {
	Items []View `json:"Items"`
}
