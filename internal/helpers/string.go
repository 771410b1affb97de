package helpers

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
)

func MD5Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HasChinese 字符串中是否包含中文字符
func HasChinese(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// IsPureChinese 字符串去掉空白和中点后是否全部为中文字符
func IsPureChinese(s string) bool {
	found := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == '·' || r == '・' {
			continue
		}
		if !unicode.Is(unicode.Han, r) {
			return false
		}
		found = true
	}
	return found
}

// ToPinyin 把字符串中的中文转为拼音首字母，非中文字符原样保留。
// 演员中文化用它来比对中英文名是否指同一个人。
func ToPinyin(s string) string {
	args := pinyin.NewArgs()
	args.Style = pinyin.FirstLetter
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			py := pinyin.SinglePinyin(r, args)
			if len(py) > 0 {
				b.WriteString(py[0])
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PinyinFull 中文转全拼，用于和罗马化的演员名做模糊比对
func PinyinFull(s string) string {
	args := pinyin.NewArgs()
	args.Style = pinyin.Normal
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			py := pinyin.SinglePinyin(r, args)
			if len(py) > 0 {
				b.WriteString(py[0])
				continue
			}
		}
		if !unicode.IsSpace(r) && r != '·' && r != '・' {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// TrimSplit 按sep分割并去掉每段前后空白，空段丢弃
func TrimSplit(s string, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
