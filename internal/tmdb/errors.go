package tmdb

import (
	"encoding/json"
	"errors"
)

// ErrNotFound TMDB未收录请求的条目
var ErrNotFound = errors.New("TMDB未找到该条目")

func unmarshalCached(data []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
